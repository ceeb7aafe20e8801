package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/BradenHooton/keystone/internal/models"
	"github.com/BradenHooton/keystone/internal/services"
)

// adminAPI is the subset of services.AdminService the commands drive
type adminAPI interface {
	CreateUser(ctx context.Context, cmd services.CreateUserCommand, rc models.RequestContext) (*services.AdminResult, error)
	Unlock(ctx context.Context, cmd services.AccountCommand, rc models.RequestContext) (*services.AdminResult, error)
	RevokeSessions(ctx context.Context, cmd services.AccountCommand, rc models.RequestContext) (*services.AdminResult, error)
	Grant(ctx context.Context, cmd services.GrantCommand, rc models.RequestContext) (*services.AdminResult, error)
}

var operator = models.RequestContext{UserAgent: "keystonectl"}

type app struct {
	admin        adminAPI
	out          io.Writer
	readPassword func() ([]byte, error)
}

func (a *app) run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		usage(a.out)
		return fmt.Errorf("missing command")
	}

	switch args[0] {
	case "create-user":
		return a.createUser(ctx, args[1:])
	case "unlock":
		return a.account(ctx, "unlock", args[1:], a.admin.Unlock, services.NewUnlockCommand)
	case "revoke-sessions":
		return a.account(ctx, "revoke-sessions", args[1:], a.admin.RevokeSessions, services.NewRevokeSessionsCommand)
	case "grant":
		return a.grant(ctx, args[1:])
	case "help", "-h", "--help":
		usage(a.out)
		return nil
	default:
		usage(a.out)
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func (a *app) createUser(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("create-user", flag.ContinueOnError)
	fs.SetOutput(a.out)
	email := fs.String("email", "", "account email (required)")
	name := fs.String("name", "", "display name")
	roles := fs.String("roles", "", "comma-separated roles")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *email == "" {
		return fmt.Errorf("-email is required")
	}

	password, err := a.readPassword()
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}
	defer clear(password)

	result, err := a.admin.CreateUser(ctx, services.NewCreateUserCommand(*email, *name, string(password), splitList(*roles)), operator)
	if errors.Is(err, models.ErrConflict) {
		return fmt.Errorf("an account for %s already exists", *email)
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "created user %s\n", result.User.ID)
	return nil
}

func (a *app) account(
	ctx context.Context,
	name string,
	args []string,
	op func(context.Context, services.AccountCommand, models.RequestContext) (*services.AdminResult, error),
	build func(email string) services.AccountCommand,
) error {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.out)
	email := fs.String("email", "", "account email (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *email == "" {
		return fmt.Errorf("-email is required")
	}

	result, err := op(ctx, build(*email), operator)
	if err != nil {
		return err
	}
	if result.Failure == models.FailureUserNotFound {
		return fmt.Errorf("no account for %s", *email)
	}

	switch name {
	case "unlock":
		fmt.Fprintf(a.out, "unlocked %s\n", result.User.ID)
	default:
		fmt.Fprintf(a.out, "revoked %d session(s) for %s\n", result.RevokedSessions, result.User.ID)
	}
	return nil
}

func (a *app) grant(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("grant", flag.ContinueOnError)
	fs.SetOutput(a.out)
	role := fs.String("role", "", "role name (required)")
	permission := fs.String("permission", "", "permission to add (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *role == "" || *permission == "" {
		return fmt.Errorf("-role and -permission are required")
	}

	if _, err := a.admin.Grant(ctx, services.NewGrantCommand(*role, *permission), operator); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "granted %s to %s\n", *permission, *role)
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func usage(w io.Writer) {
	fmt.Fprint(w, `usage: keystonectl <command> [flags]

commands:
  create-user      -email <email> [-name <name>] [-roles a,b]   (password read from the terminal)
  unlock           -email <email>
  revoke-sessions  -email <email>
  grant            -role <role> -permission <permission>
`)
}
