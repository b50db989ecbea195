package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"syscall"

	"golang.org/x/term"

	"github.com/Hussein-Mazeh/passmngr/auth"
	"github.com/Hussein-Mazeh/passmngr/internal/config"
	"github.com/Hussein-Mazeh/passmngr/internal/journal"
	"github.com/Hussein-Mazeh/passmngr/internal/platform"
	"github.com/Hussein-Mazeh/passmngr/internal/service"
	"github.com/Hussein-Mazeh/passmngr/internal/vault"
	"github.com/Hussein-Mazeh/passmngr/krypto"
)

const cliVersion = "0.2.0"

type userError struct {
	msg string
}

func (e userError) Error() string { return e.msg }

// app carries the process streams so commands can be driven from tests.
type app struct {
	stdin      io.Reader
	stdout     io.Writer
	stderr     io.Writer
	readSecret func(prompt string) ([]byte, error)
	lookupEnv  func(string) (string, bool)
}

func main() {
	a := &app{
		stdin:     os.Stdin,
		stdout:    os.Stdout,
		stderr:    os.Stderr,
		lookupEnv: os.LookupEnv,
	}
	a.readSecret = a.promptPassword

	if err := platform.DisableCoreDumps(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not disable core dumps: %v\n", err)
	}

	os.Exit(a.run(os.Args[1:]))
}

// run dispatches a command and returns the process exit code.
func (a *app) run(args []string) int {
	if len(args) < 1 {
		a.printUsage()
		return 1
	}

	var err error
	switch args[0] {
	case "version":
		fmt.Fprintln(a.stdout, cliVersion)
	case "init":
		err = a.runInit(args[1:])
	case "add":
		err = a.runAdd(args[1:])
	case "get":
		err = a.runGet(args[1:])
	case "edit":
		err = a.runEdit(args[1:])
	case "list":
		err = a.runList(args[1:], false)
	case "search":
		err = a.runList(args[1:], true)
	case "rm":
		err = a.runRemove(args[1:])
	case "passwd":
		err = a.runPasswd(args[1:])
	case "gen":
		err = a.runGen(args[1:])
	case "history":
		err = a.runHistory(args[1:])
	case "session":
		err = a.runSession(args[1:])
	case "help", "-h", "--help":
		a.printUsage()
	default:
		a.printUsage()
		return 1
	}
	return a.handleError(err)
}

func (a *app) handleError(err error) int {
	if err == nil {
		return 0
	}

	var uerr userError
	if errors.As(err, &uerr) {
		fmt.Fprintln(a.stderr, uerr.Error())
		return 1
	}

	fmt.Fprintf(a.stderr, "unexpected error: %v\n", err)
	return 2
}

// commonFlags are accepted by every vault command.
type commonFlags struct {
	vault     string
	journal   string
	noJournal bool
	logLevel  string
}

func bindCommon(fs *flag.FlagSet, c *commonFlags) {
	fs.StringVar(&c.vault, "vault", "", "vault file (default ~/.local/share/passmngr/vault.enc)")
	fs.StringVar(&c.journal, "journal", "", "save journal database")
	fs.BoolVar(&c.noJournal, "no-journal", false, "do not record save parameters")
	fs.StringVar(&c.logLevel, "log-level", "", "log level (debug, info, warn, error)")
}

func (a *app) loadConfig(c commonFlags) (config.Config, error) {
	cfg, err := config.Default()
	if err != nil {
		return cfg, err
	}
	cfg, err = cfg.FromEnv(a.lookupEnv)
	if err != nil {
		return cfg, userError{msg: err.Error()}
	}
	if c.vault != "" {
		cfg.VaultPath = c.vault
	}
	if c.journal != "" {
		cfg.JournalPath = c.journal
	}
	if c.noJournal {
		cfg.JournalPath = ""
	}
	if c.logLevel != "" {
		cfg.LogLevel = c.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return cfg, userError{msg: err.Error()}
	}
	return cfg, nil
}

// openService builds a locked session for the configured vault. The returned
// cleanup locks the session and closes the journal.
func (a *app) openService(c commonFlags, extra ...service.Option) (*service.Service, func(), error) {
	cfg, err := a.loadConfig(c)
	if err != nil {
		return nil, nil, err
	}

	opts := []service.Option{
		service.WithLogger(cfg.Logger(a.stderr)),
		service.WithIdleTimeout(cfg.IdleTimeout),
	}

	var j *journal.Journal
	if cfg.JournalPath != "" {
		j, err = journal.Open(cfg.JournalPath)
		if err != nil {
			return nil, nil, fmt.Errorf("open journal: %w", err)
		}
		opts = append(opts, service.WithRecorder(j))
	}

	svc := service.New(cfg.VaultPath, append(opts, extra...)...)
	cleanup := func() {
		svc.Lock()
		if j != nil {
			j.Close()
		}
	}
	return svc, cleanup, nil
}

// unlock prompts for the master passphrase and unlocks svc.
func (a *app) unlock(svc *service.Service) error {
	if svc.NeedsSetup() {
		return userError{msg: fmt.Sprintf("no vault at %s; run pm init first", svc.Path())}
	}
	pw, err := a.readSecret("Master passphrase: ")
	if err != nil {
		return fmt.Errorf("read master passphrase: %w", err)
	}
	return a.unlockWith(svc, pw)
}

func (a *app) unlockWith(svc *service.Service, pw []byte) error {
	a.status("Unlocking (deriving key)...")
	if err := svc.Unlock(pw); err != nil {
		return describeVaultError(err)
	}
	return nil
}

func (a *app) save(svc *service.Service) error {
	a.status("Saving (deriving key)...")
	if err := svc.Save(); err != nil {
		return describeVaultError(err)
	}
	return nil
}

// status is written before every blocking derivation so the user sees it
// while the terminal is unresponsive.
func (a *app) status(msg string) {
	fmt.Fprintln(a.stderr, msg)
	if f, ok := a.stderr.(*os.File); ok {
		_ = f.Sync()
	}
}

func describeVaultError(err error) error {
	switch {
	case errors.Is(err, krypto.ErrAuthentication):
		return userError{msg: "incorrect passphrase or corrupted vault"}
	case errors.Is(err, vault.ErrUnsupportedVersion):
		return userError{msg: "vault file version is not supported by this build"}
	case errors.Is(err, vault.ErrSerialization):
		return userError{msg: "vault file is malformed"}
	case errors.Is(err, os.ErrNotExist):
		return userError{msg: "vault file not found; run pm init first"}
	case errors.Is(err, auth.ErrWeakPassphrase):
		return userError{msg: err.Error()}
	case errors.Is(err, journal.ErrReuse):
		return userError{msg: "refusing to save: salt or nonce reuse detected"}
	}
	return err
}

func (a *app) promptPassword(prompt string) ([]byte, error) {
	fmt.Fprint(a.stderr, prompt)
	pw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(a.stderr)
	if err != nil {
		return nil, err
	}
	return pw, nil
}

// promptNew reads a passphrase twice and requires both to match.
func (a *app) promptNew(prompt string) ([]byte, error) {
	pw, err := a.readSecret(prompt)
	if err != nil {
		return nil, fmt.Errorf("read passphrase: %w", err)
	}
	confirm, err := a.readSecret("Confirm: ")
	if err != nil {
		krypto.Wipe(pw)
		return nil, fmt.Errorf("read confirmation: %w", err)
	}
	defer krypto.Wipe(confirm)

	want := krypto.NewSecret(append([]byte(nil), pw...))
	defer want.Wipe()
	if !want.Equal(confirm) {
		krypto.Wipe(pw)
		return nil, userError{msg: "passphrases do not match"}
	}
	return pw, nil
}

func (a *app) printUsage() {
	fmt.Fprintln(a.stderr, "Usage: pm <command> [flags]")
	fmt.Fprintln(a.stderr, "Commands:")
	fmt.Fprintln(a.stderr, "  version")
	fmt.Fprintln(a.stderr, "  init [--hibp]")
	fmt.Fprintln(a.stderr, "  add --name <name> [--user <u>] [--url <url>] [--notes <n>] [--tags a,b] [--generate] [--length N]")
	fmt.Fprintln(a.stderr, "  get [--field password|username|all] <id|query>")
	fmt.Fprintln(a.stderr, "  edit [--name ...] [--user ...] [--url ...] [--notes ...] [--tags ...] [--password] [--generate] <id|query>")
	fmt.Fprintln(a.stderr, "  list")
	fmt.Fprintln(a.stderr, "  search <query>")
	fmt.Fprintln(a.stderr, "  rm <id|query>")
	fmt.Fprintln(a.stderr, "  passwd")
	fmt.Fprintln(a.stderr, "  gen [--length N]")
	fmt.Fprintln(a.stderr, "  history [--limit N]")
	fmt.Fprintln(a.stderr, "  session")
	fmt.Fprintln(a.stderr, "Vault commands accept --vault, --journal, --no-journal and --log-level.")
}
