package cli

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cipherkeep/cipherkeep/internal/network"
	"github.com/cipherkeep/cipherkeep/internal/store"
	"github.com/cipherkeep/cipherkeep/internal/vault"
)

// checkReport tallies doctor findings while printing them
type checkReport struct {
	out      io.Writer
	issues   int
	warnings int
}

func (r *checkReport) section(title string) { fmt.Fprintf(r.out, "\n%s\n", title) }
func (r *checkReport) ok(format string, args ...any) {
	fmt.Fprintf(r.out, "   ✅ "+format+"\n", args...)
}
func (r *checkReport) warn(format string, args ...any) {
	r.warnings++
	fmt.Fprintf(r.out, "   ⚠️  "+format+"\n", args...)
}
func (r *checkReport) fail(format string, args ...any) {
	r.issues++
	fmt.Fprintf(r.out, "   ❌ "+format+"\n", args...)
}

// checkPermissions reports whether path is private to the owner
func (r *checkReport) checkPermissions(label, path string) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		r.ok("%s not created yet", label)
		return
	}
	if err != nil {
		r.fail("Cannot check %s: %v", label, err)
		return
	}
	perm := info.Mode().Perm()
	switch {
	case perm&0o077 == 0:
		r.ok("%s permissions: %o", label, perm)
	default:
		r.fail("%s permissions: %o (too permissive, fix with: chmod go-rwx %s)", label, perm, path)
	}
}

// NewDoctorCommand creates the doctor command
func NewDoctorCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Perform security and health checks",
		Long: `Check file permissions, the vault's encryption parameters and the sharing
setup. No password is needed.

Example:
  cipherkeep doctor`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(cmd, app)
		},
	}
}

func runDoctor(cmd *cobra.Command, app *App) error {
	cfg := app.Config
	r := &checkReport{out: cmd.OutOrStdout()}
	fmt.Fprintln(r.out, "CipherKeep Security & Health Check")
	fmt.Fprintln(r.out, "==================================")

	r.section("1. File Security")
	if cfg.Backend() != store.BackendMemory {
		r.checkPermissions("Vault storage", cfg.VaultPath)
	}
	if app.ConfigPath != "" {
		r.checkPermissions("Config file", app.ConfigPath)
	}

	r.section("2. Encryption")
	s, err := app.openStore()
	if err != nil {
		r.fail("Cannot open vault storage: %v", err)
	} else {
		data, err := s.Get(cmd.Context(), store.VaultKey)
		switch {
		case errors.Is(err, store.ErrNotFound):
			r.warn("No vault yet, run 'cipherkeep init'")
		case err != nil:
			r.fail("Cannot read vault: %v", err)
		default:
			checkBlob(r, data)
		}
		s.Close()
	}

	r.section("3. Sharing")
	if cfg.UsingDefaultSecret() {
		r.warn("Built-in share secret in use; set CIPHERKEEP_SHARE_SECRET to the same value on every peer")
	} else {
		r.ok("Custom share secret configured")
	}
	if local, err := network.DetectLocalAddr(); err != nil {
		r.warn("No LAN address found (%v); peers cannot be discovered", err)
	} else {
		r.ok("LAN address %s on %s", local.Prefix, local.Interface.Name)
	}
	if host, _, err := net.SplitHostPort(cfg.API.Addr); err != nil {
		r.fail("Invalid local API address %q", cfg.API.Addr)
	} else if ip := net.ParseIP(host); host != "localhost" && (ip == nil || !ip.IsLoopback()) {
		r.fail("Local API address %s is not loopback; the API will refuse to start", cfg.API.Addr)
	} else {
		r.ok("Local API bound to %s", cfg.API.Addr)
	}

	fmt.Fprintln(r.out, "\n"+strings.Repeat("=", 40))
	if r.issues == 0 && r.warnings == 0 {
		fmt.Fprintln(r.out, "✅ All checks passed!")
		return nil
	}
	if r.issues > 0 {
		fmt.Fprintf(r.out, "❌ Found %d security issues that should be fixed\n", r.issues)
	}
	if r.warnings > 0 {
		fmt.Fprintf(r.out, "⚠️  Found %d warnings for consideration\n", r.warnings)
	}
	return nil
}

func checkBlob(r *checkReport, data []byte) {
	blob, err := vault.UnmarshalBlob(data)
	if err != nil {
		r.fail("Vault is unreadable: %v", err)
		return
	}
	info, err := vault.DescribeBlob(blob)
	if err != nil {
		r.fail("Vault is unreadable: %v", err)
		return
	}
	r.ok("Cipher: %s", info.Cipher)
	if info.Legacy || info.Iterations < vault.PBKDF2Iterations {
		r.warn("Legacy key derivation (%s, %d iterations); unlock once to upgrade", info.KDF, info.Iterations)
	} else {
		r.ok("Key derivation: %s with %d iterations", info.KDF, info.Iterations)
	}
}
