// Command hashpass prints an argon2id hash for DASHBOARD_PASSWORD_HASH.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"shadowlog/internal/config"
	"shadowlog/internal/hashing"

	"github.com/spf13/pflag"
)

func main() {
	defaults := config.Get().Hashing

	password := pflag.StringP("password", "p", "", "password to hash (read from stdin when empty)")
	memory := pflag.Int("memory", defaults.Argon2MemoryCost, "argon2 memory cost in KiB")
	iterations := pflag.Int("iterations", defaults.Argon2TimeCost, "argon2 iterations")
	parallelism := pflag.Int("parallelism", defaults.Argon2Parallelism, "argon2 parallelism")
	pflag.Parse()

	pw := *password
	if pw == "" {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			fmt.Fprintln(os.Stderr, "hashpass: no password given")
			os.Exit(2)
		}
		pw = strings.TrimRight(line, "\r\n")
	}
	if pw == "" {
		fmt.Fprintln(os.Stderr, "hashpass: empty password")
		os.Exit(2)
	}

	hasher := hashing.NewHasher(&config.Config{Hashing: config.HashingConfig{
		Argon2MemoryCost:  *memory,
		Argon2TimeCost:    *iterations,
		Argon2Parallelism: *parallelism,
	}})

	hash, err := hasher.HashPassword(pw)
	if err != nil {
		fmt.Fprintln(os.Stderr, "hashpass:", err)
		os.Exit(1)
	}
	fmt.Println(hash)
}
