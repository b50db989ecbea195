package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"

	"github.com/Hussein-Mazeh/passmngr/auth"
	"github.com/Hussein-Mazeh/passmngr/internal/journal"
	"github.com/Hussein-Mazeh/passmngr/internal/service"
	"github.com/Hussein-Mazeh/passmngr/internal/vault"
	"github.com/Hussein-Mazeh/passmngr/krypto"
)

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func parseFlags(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return userError{msg: fmt.Sprintf("%s: %v", fs.Name(), err)}
	}
	return nil
}

func oneArg(fs *flag.FlagSet, what string) (string, error) {
	if fs.NArg() != 1 {
		return "", userError{msg: fmt.Sprintf("%s: expected exactly one %s", fs.Name(), what)}
	}
	return fs.Arg(0), nil
}

func (a *app) runInit(args []string) error {
	fs := newFlagSet("init")
	var common commonFlags
	bindCommon(fs, &common)
	hibp := fs.Bool("hibp", false, "reject passphrases found in the Pwned Passwords corpus")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	policy := auth.DefaultValidateOptions()
	if *hibp {
		policy.EnableHIBP = true
		policy.HIBP = auth.DefaultHIBPClient()
	}

	svc, cleanup, err := a.openService(common, service.WithPolicy(policy))
	if err != nil {
		return err
	}
	defer cleanup()

	if !svc.NeedsSetup() {
		return userError{msg: fmt.Sprintf("vault already exists at %s", svc.Path())}
	}

	pw, err := a.promptNew("New master passphrase: ")
	if err != nil {
		return err
	}

	a.status("Creating vault (deriving key)...")
	if err := svc.Create(context.Background(), pw); err != nil {
		if errors.Is(err, service.ErrExists) {
			return userError{msg: err.Error()}
		}
		return describeVaultError(err)
	}

	fmt.Fprintf(a.stdout, "Vault created at %s\n", svc.Path())
	return nil
}

func (a *app) runAdd(args []string) error {
	fs := newFlagSet("add")
	var common commonFlags
	bindCommon(fs, &common)
	name := fs.String("name", "", "entry name (required)")
	user := fs.String("user", "", "username")
	url := fs.String("url", "", "site URL")
	notes := fs.String("notes", "", "free-form notes")
	tags := fs.String("tags", "", "comma-separated tags")
	generate := fs.Bool("generate", false, "generate a random password instead of prompting")
	length := fs.Int("length", krypto.DefaultPasswordLength, "generated password length")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if strings.TrimSpace(*name) == "" {
		return userError{msg: "add: --name is required"}
	}

	svc, cleanup, err := a.openService(common)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := a.unlock(svc); err != nil {
		return err
	}

	password, err := a.entryPassword(*generate, *length)
	if err != nil {
		return err
	}

	id, err := svc.Add(vault.Entry{
		Name:     strings.TrimSpace(*name),
		Username: *user,
		Password: password,
		URL:      *url,
		Notes:    *notes,
		Tags:     parseTags(*tags),
	})
	if err != nil {
		return err
	}
	if err := a.save(svc); err != nil {
		return err
	}

	fmt.Fprintf(a.stdout, "Added %s (%s)\n", strings.TrimSpace(*name), id)
	return nil
}

// entryPassword either generates a password or prompts for one twice.
func (a *app) entryPassword(generate bool, length int) (string, error) {
	if generate {
		pw, err := krypto.GeneratePassword(length)
		if err != nil {
			if errors.Is(err, krypto.ErrParameter) {
				return "", userError{msg: err.Error()}
			}
			return "", err
		}
		return pw, nil
	}

	pw, err := a.promptNew("Entry password: ")
	if err != nil {
		return "", err
	}
	defer krypto.Wipe(pw)
	if len(pw) == 0 {
		return "", userError{msg: "empty password; use --generate for a random one"}
	}
	return string(pw), nil
}

func (a *app) runGet(args []string) error {
	fs := newFlagSet("get")
	var common commonFlags
	bindCommon(fs, &common)
	field := fs.String("field", "password", "field to print: password, username or all")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	ref, err := oneArg(fs, "id or query")
	if err != nil {
		return err
	}
	switch *field {
	case "password", "username", "all":
	default:
		return userError{msg: fmt.Sprintf("get: unknown field %q", *field)}
	}

	svc, cleanup, err := a.openService(common)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := a.unlock(svc); err != nil {
		return err
	}

	e, err := resolveEntry(svc, ref)
	if err != nil {
		return err
	}

	switch *field {
	case "password":
		fmt.Fprintln(a.stdout, e.Password)
	case "username":
		fmt.Fprintln(a.stdout, e.Username)
	default:
		printEntry(a.stdout, e)
	}
	return nil
}

func (a *app) runEdit(args []string) error {
	fs := newFlagSet("edit")
	var common commonFlags
	bindCommon(fs, &common)
	name := fs.String("name", "", "new entry name")
	user := fs.String("user", "", "new username")
	url := fs.String("url", "", "new site URL")
	notes := fs.String("notes", "", "new notes")
	tags := fs.String("tags", "", "new comma-separated tags")
	password := fs.Bool("password", false, "prompt for a new password")
	generate := fs.Bool("generate", false, "replace the password with a generated one")
	length := fs.Int("length", krypto.DefaultPasswordLength, "generated password length")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	ref, err := oneArg(fs, "id or query")
	if err != nil {
		return err
	}

	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if set["name"] && strings.TrimSpace(*name) == "" {
		return userError{msg: "edit: --name cannot be empty"}
	}

	svc, cleanup, err := a.openService(common)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := a.unlock(svc); err != nil {
		return err
	}

	e, err := resolveEntry(svc, ref)
	if err != nil {
		return err
	}

	var newPassword string
	if *password || *generate {
		newPassword, err = a.entryPassword(*generate, *length)
		if err != nil {
			return err
		}
	}

	err = svc.Update(e.ID, func(e *vault.Entry) {
		if set["name"] {
			e.Name = strings.TrimSpace(*name)
		}
		if set["user"] {
			e.Username = *user
		}
		if set["url"] {
			e.URL = *url
		}
		if set["notes"] {
			e.Notes = *notes
		}
		if set["tags"] {
			e.Tags = parseTags(*tags)
		}
		if newPassword != "" {
			e.Password = newPassword
		}
	})
	if err != nil {
		return err
	}
	if err := a.save(svc); err != nil {
		return err
	}

	fmt.Fprintf(a.stdout, "Updated %s\n", e.ID)
	return nil
}

func (a *app) runList(args []string, search bool) error {
	name := "list"
	if search {
		name = "search"
	}
	fs := newFlagSet(name)
	var common commonFlags
	bindCommon(fs, &common)
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	query := ""
	if search {
		q, err := oneArg(fs, "query")
		if err != nil {
			return err
		}
		query = q
	} else if fs.NArg() != 0 {
		return userError{msg: "list: unexpected arguments"}
	}

	svc, cleanup, err := a.openService(common)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := a.unlock(svc); err != nil {
		return err
	}
	return a.printEntries(svc, query)
}

func (a *app) printEntries(svc *service.Service, query string) error {
	entries, err := svc.Search(query)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(a.stdout, "No entries.")
		return nil
	}

	w := tabwriter.NewWriter(a.stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tUSERNAME\tURL\tTAGS")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", e.ID, e.Name, e.Username, e.URL, strings.Join(e.Tags, ","))
	}
	return w.Flush()
}

func (a *app) runRemove(args []string) error {
	fs := newFlagSet("rm")
	var common commonFlags
	bindCommon(fs, &common)
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	ref, err := oneArg(fs, "id or query")
	if err != nil {
		return err
	}

	svc, cleanup, err := a.openService(common)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := a.unlock(svc); err != nil {
		return err
	}

	e, err := resolveEntry(svc, ref)
	if err != nil {
		return err
	}
	if err := svc.Delete(e.ID); err != nil {
		return err
	}
	if err := a.save(svc); err != nil {
		return err
	}

	fmt.Fprintf(a.stdout, "Removed %s (%s)\n", e.Name, e.ID)
	return nil
}

func (a *app) runPasswd(args []string) error {
	fs := newFlagSet("passwd")
	var common commonFlags
	bindCommon(fs, &common)
	hibp := fs.Bool("hibp", false, "reject passphrases found in the Pwned Passwords corpus")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	policy := auth.DefaultValidateOptions()
	if *hibp {
		policy.EnableHIBP = true
		policy.HIBP = auth.DefaultHIBPClient()
	}

	svc, cleanup, err := a.openService(common, service.WithPolicy(policy))
	if err != nil {
		return err
	}
	defer cleanup()

	if svc.NeedsSetup() {
		return userError{msg: fmt.Sprintf("no vault at %s; run pm init first", svc.Path())}
	}

	current, err := a.readSecret("Current master passphrase: ")
	if err != nil {
		return fmt.Errorf("read master passphrase: %w", err)
	}
	// Unlock consumes its argument; keep a copy for the confirmation check.
	check := append([]byte(nil), current...)
	if err := a.unlockWith(svc, current); err != nil {
		krypto.Wipe(check)
		return err
	}

	next, err := a.promptNew("New master passphrase: ")
	if err != nil {
		krypto.Wipe(check)
		return err
	}

	a.status("Re-encrypting (deriving key)...")
	if err := svc.ChangePassphrase(context.Background(), check, next); err != nil {
		if errors.Is(err, service.ErrPassphraseMismatch) {
			return userError{msg: err.Error()}
		}
		return describeVaultError(err)
	}

	fmt.Fprintln(a.stdout, "Master passphrase changed.")
	return nil
}

func (a *app) runGen(args []string) error {
	fs := newFlagSet("gen")
	length := fs.Int("length", krypto.DefaultPasswordLength, "password length")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	pw, err := krypto.GeneratePassword(*length)
	if err != nil {
		if errors.Is(err, krypto.ErrParameter) {
			return userError{msg: err.Error()}
		}
		return err
	}
	fmt.Fprintln(a.stdout, pw)
	fmt.Fprintf(a.stderr, "strength: %d/4\n", auth.Strength(pw, nil))
	return nil
}

func (a *app) runHistory(args []string) error {
	fs := newFlagSet("history")
	var common commonFlags
	bindCommon(fs, &common)
	limit := fs.Int("limit", 10, "number of saves to show (0 for all)")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	cfg, err := a.loadConfig(common)
	if err != nil {
		return err
	}
	if cfg.JournalPath == "" {
		return userError{msg: "save journal is disabled"}
	}

	j, err := journal.Open(cfg.JournalPath)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer j.Close()

	saves, err := j.History(cfg.VaultPath, *limit)
	if err != nil {
		return err
	}
	if len(saves) == 0 {
		fmt.Fprintln(a.stdout, "No saves recorded.")
		return nil
	}

	w := tabwriter.NewWriter(a.stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SAVED AT\tSALT\tNONCE")
	for _, s := range saves {
		fmt.Fprintf(w, "%s\t%s\t%s\n",
			s.SavedAt.Local().Format(time.DateTime), hex.EncodeToString(s.Salt), hex.EncodeToString(s.Nonce))
	}
	return w.Flush()
}

// resolveEntry accepts either an entry ID or a query that matches exactly
// one entry.
func resolveEntry(svc *service.Service, ref string) (vault.Entry, error) {
	if id, err := uuid.Parse(ref); err == nil {
		e, err := svc.Get(id)
		if errors.Is(err, service.ErrNotFound) {
			return vault.Entry{}, userError{msg: fmt.Sprintf("no entry with id %s", id)}
		}
		return e, err
	}

	matches, err := svc.Search(ref)
	if err != nil {
		return vault.Entry{}, err
	}
	switch len(matches) {
	case 0:
		return vault.Entry{}, userError{msg: fmt.Sprintf("no entry matches %q", ref)}
	case 1:
		return matches[0], nil
	default:
		return vault.Entry{}, userError{msg: fmt.Sprintf("%d entries match %q; use the id", len(matches), ref)}
	}
}

func printEntry(w io.Writer, e vault.Entry) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "ID:\t%s\n", e.ID)
	fmt.Fprintf(tw, "Name:\t%s\n", e.Name)
	fmt.Fprintf(tw, "Username:\t%s\n", e.Username)
	fmt.Fprintf(tw, "Password:\t%s\n", e.Password)
	if e.URL != "" {
		fmt.Fprintf(tw, "URL:\t%s\n", e.URL)
	}
	if e.Notes != "" {
		fmt.Fprintf(tw, "Notes:\t%s\n", e.Notes)
	}
	if len(e.Tags) > 0 {
		fmt.Fprintf(tw, "Tags:\t%s\n", strings.Join(e.Tags, ", "))
	}
	fmt.Fprintf(tw, "Created:\t%s\n", e.Created.Local().Format(time.DateTime))
	fmt.Fprintf(tw, "Modified:\t%s\n", e.Modified.Local().Format(time.DateTime))
	tw.Flush()
}

func parseTags(s string) []string {
	tags := []string{}
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}
