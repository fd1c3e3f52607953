package cmd

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/relaycrew/chatrelay/internal/config"
	dbsql "github.com/relaycrew/chatrelay/internal/store/sql"
	"github.com/relaycrew/chatrelay/pkg/protocol"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check system environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("chatrelay doctor")
	fmt.Printf("  Version:  %s (protocol %d)\n", Version, protocol.ProtocolVersion)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	fmt.Println()
	fmt.Println("  Database:")
	fmt.Printf("    %-16s %s\n", "Mode:", cfg.Database.Mode)
	switch cfg.Database.Mode {
	case "sql":
		if cfg.Database.DSN == "" {
			fmt.Printf("    %-16s NOT SET (CHATRELAY_POSTGRES_DSN)\n", "DSN:")
		} else {
			db, err := dbsql.NewStore(cfg.Database.DSN)
			if err != nil {
				fmt.Printf("    %-16s CONNECT FAILED (%s)\n", "Status:", err)
			} else {
				fmt.Printf("    %-16s OK\n", "Status:")
				db.Close()
			}
		}
	default:
		if _, err := os.Stat(cfg.Database.FileDir); err != nil {
			fmt.Printf("    %-16s %s (NOT FOUND — created on first run)\n", "File dir:", cfg.Database.FileDir)
		} else {
			fmt.Printf("    %-16s %s (OK)\n", "File dir:", cfg.Database.FileDir)
		}
	}

	fmt.Println()
	fmt.Println("  Encryption:")
	if cfg.EncryptionKey == "" {
		fmt.Printf("    %-16s NOT SET (CHATRELAY_ENCRYPTION_KEY)\n", "Key:")
	} else if _, err := newSealer(cfg.EncryptionKey); err != nil {
		fmt.Printf("    %-16s INVALID (%s)\n", "Key:", err)
	} else {
		fmt.Printf("    %-16s OK\n", "Key:")
	}

	fmt.Println()
	fmt.Println("  Gateway:")
	fmt.Printf("    %-16s %s\n", "Listen addr:", cfg.Gateway.ListenAddr)
	if len(cfg.Gateway.AllowedOrigins) == 0 {
		fmt.Printf("    %-16s any (dev mode — no allowlist configured)\n", "Origins:")
	} else {
		fmt.Printf("    %-16s %v\n", "Origins:", cfg.Gateway.AllowedOrigins)
	}

	fmt.Println()
	fmt.Println("  Telemetry:")
	fmt.Printf("    %-16s %v\n", "Tracing:", cfg.Telemetry.TracingEnabled)

	fmt.Println()
	fmt.Println("Doctor check complete.")
}
