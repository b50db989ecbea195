package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/Hussein-Mazeh/passmngr/internal/service"
	"github.com/Hussein-Mazeh/passmngr/internal/vault"
	"github.com/Hussein-Mazeh/passmngr/krypto"
)

func (a *app) runSession(args []string) error {
	fs := newFlagSet("session")
	var common commonFlags
	bindCommon(fs, &common)
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if fs.NArg() != 0 {
		return userError{msg: "session: unexpected arguments"}
	}

	svc, cleanup, err := a.openService(common)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := a.unlock(svc); err != nil {
		return err
	}

	fmt.Fprintln(a.stdout, "Vault unlocked. Type 'help' for commands.")
	return a.sessionLoop(svc)
}

// sessionLoop reads commands until quit or EOF. The idle timeout is checked
// before each command, so a session left at the prompt locks on its next use.
func (a *app) sessionLoop(svc *service.Service) error {
	scanner := bufio.NewScanner(a.stdin)

	for {
		fmt.Fprint(a.stderr, "pm> ")
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("read input: %w", err)
			}
			fmt.Fprintln(a.stderr)
			a.endSession(svc)
			return nil
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if svc.CheckIdle() {
			fmt.Fprintln(a.stdout, "Vault locked after inactivity.")
		}

		fields := strings.Fields(line)
		cmd := fields[0]
		args := fields[1:]

		var err error
		switch cmd {
		case "help":
			a.printSessionHelp()
		case "exit", "quit":
			a.endSession(svc)
			return nil
		case "lock":
			svc.Lock()
			fmt.Fprintln(a.stdout, "Vault locked.")
		case "unlock":
			if svc.IsUnlocked() {
				fmt.Fprintln(a.stdout, "Vault is already unlocked.")
				break
			}
			if err = a.unlock(svc); err == nil {
				fmt.Fprintln(a.stdout, "Vault unlocked.")
			}
		case "list", "search", "get", "add", "rm", "save":
			if !svc.IsUnlocked() {
				fmt.Fprintln(a.stdout, "Vault is locked; type 'unlock'.")
				break
			}
			err = a.sessionCommand(svc, cmd, args)
		default:
			fmt.Fprintf(a.stderr, "unknown command: %s\n", cmd)
		}
		a.handleSessionError(err)
	}
}

func (a *app) sessionCommand(svc *service.Service, cmd string, args []string) error {
	switch cmd {
	case "list":
		return a.printEntries(svc, "")
	case "search":
		if len(args) == 0 {
			return userError{msg: "search requires a query"}
		}
		return a.printEntries(svc, strings.Join(args, " "))
	case "get":
		if len(args) == 0 {
			return userError{msg: "get requires an id or query"}
		}
		e, err := resolveEntry(svc, strings.Join(args, " "))
		if err != nil {
			return err
		}
		printEntry(a.stdout, e)
		return nil
	case "add":
		return a.sessionAdd(svc, args)
	case "rm":
		if len(args) == 0 {
			return userError{msg: "rm requires an id or query"}
		}
		e, err := resolveEntry(svc, strings.Join(args, " "))
		if err != nil {
			return err
		}
		if err := svc.Delete(e.ID); err != nil {
			return err
		}
		fmt.Fprintf(a.stdout, "Removed %s (unsaved)\n", e.Name)
		return nil
	case "save":
		if err := a.save(svc); err != nil {
			return err
		}
		fmt.Fprintln(a.stdout, "Saved.")
		return nil
	}
	return nil
}

func (a *app) sessionAdd(svc *service.Service, args []string) error {
	fs := newFlagSet("add")
	name := fs.String("name", "", "entry name")
	user := fs.String("user", "", "username")
	url := fs.String("url", "", "site URL")
	tags := fs.String("tags", "", "comma-separated tags")
	generate := fs.Bool("generate", false, "generate a random password")
	if err := fs.Parse(args); err != nil {
		return userError{msg: "invalid add arguments"}
	}
	if *name == "" {
		return userError{msg: "add requires --name"}
	}
	if fs.NArg() != 0 {
		return userError{msg: "unexpected positional arguments"}
	}

	password, err := a.entryPassword(*generate, krypto.DefaultPasswordLength)
	if err != nil {
		return err
	}

	id, err := svc.Add(vault.Entry{
		Name:     *name,
		Username: *user,
		Password: password,
		URL:      *url,
		Tags:     parseTags(*tags),
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "Added %s (%s, unsaved)\n", *name, id)
	return nil
}

func (a *app) endSession(svc *service.Service) {
	if svc.IsUnlocked() && svc.Dirty() {
		fmt.Fprintln(a.stderr, "warning: unsaved changes discarded")
	}
	svc.Lock()
}

func (a *app) handleSessionError(err error) {
	if err == nil {
		return
	}

	if errors.Is(err, service.ErrLocked) {
		fmt.Fprintln(a.stderr, "vault is locked")
		return
	}

	var uerr userError
	if errors.As(err, &uerr) {
		fmt.Fprintln(a.stderr, uerr.Error())
		return
	}

	fmt.Fprintf(a.stderr, "error: %v\n", err)
}

func (a *app) printSessionHelp() {
	fmt.Fprintln(a.stdout, "Commands:")
	fmt.Fprintln(a.stdout, "  list")
	fmt.Fprintln(a.stdout, "  search <query>")
	fmt.Fprintln(a.stdout, "  get <id|query>")
	fmt.Fprintln(a.stdout, "  add --name <name> [--user <u>] [--url <url>] [--tags a,b] [--generate]")
	fmt.Fprintln(a.stdout, "  rm <id|query>")
	fmt.Fprintln(a.stdout, "  save")
	fmt.Fprintln(a.stdout, "  lock | unlock")
	fmt.Fprintln(a.stdout, "  quit")
}
