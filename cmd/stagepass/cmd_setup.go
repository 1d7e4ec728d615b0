package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/user/stagepass/internal/config"
)

func init() {
	rootCmd.AddCommand(setupCmd)
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive setup wizard",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		scanner := bufio.NewScanner(os.Stdin)

		fmt.Println("Stagepass Setup Wizard")
		fmt.Println("Press Enter to accept the default value shown in brackets.")
		fmt.Println()

		cfg.Chain.RPCURL = prompt(scanner, "Chain RPC URL", cfg.Chain.RPCURL)
		chainID := prompt(scanner, "Chain ID", strconv.FormatInt(cfg.Chain.ChainID, 10))
		if n, err := strconv.ParseInt(chainID, 10, 64); err == nil {
			cfg.Chain.ChainID = n
		}
		cfg.Chain.RegistryAddress = prompt(scanner, "Registry contract address", cfg.Chain.RegistryAddress)
		cfg.Gateway.Primary = prompt(scanner, "Primary IPFS gateway", cfg.Gateway.Primary)
		cfg.Gateway.Secondary = prompt(scanner, "Secondary IPFS gateway", cfg.Gateway.Secondary)
		cfg.Cache.RedisAddr = prompt(scanner, "Redis address (optional)", cfg.Cache.RedisAddr)

		// The key is read without echo and may be left empty to be asked for
		// at purchase time.
		if term.IsTerminal(int(os.Stdin.Fd())) {
			key, err := readSecret("Wallet private key (optional, hidden): ")
			if err != nil {
				return err
			}
			if key != "" {
				cfg.Chain.PrivateKey = key
			}
		}

		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
		if err := config.Save(cfgPath, cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}

		fmt.Println()
		fmt.Println("Configuration saved to", cfgPath)
		return nil
	},
}

// prompt displays a labeled prompt with a default value and reads user input.
// If the user enters nothing, the default is returned.
func prompt(scanner *bufio.Scanner, label, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", label, defaultVal)
	} else {
		fmt.Printf("%s: ", label)
	}
	if scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input != "" {
			return input
		}
	}
	return defaultVal
}
