package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/kinoteka/kinoteka/internal/auth"
	"github.com/kinoteka/kinoteka/internal/identity"
	"github.com/kinoteka/kinoteka/internal/platform/httpx"
	"github.com/kinoteka/kinoteka/internal/rbac"
)

// SuperuserStore is the slice of the identity store createsuperuser writes to.
type SuperuserStore interface {
	CreateUser(ctx context.Context, u identity.User) (identity.User, error)
	GetRoleByName(ctx context.Context, name string) (identity.Role, error)
}

// SuperuserInput mirrors the signup payload rules.
type SuperuserInput struct {
	Username string `validate:"required,max=64"`
	Email    string `validate:"required,email,max=254"`
	Password string `validate:"required,min=8,max=72"`
}

// CreateSuperuser creates an account and gives it the superadmin role,
// creating the role on first use. Role changes go through the admin service so
// cached permission decisions are invalidated.
func CreateSuperuser(ctx context.Context, store SuperuserStore, admin *rbac.Service, roleName string, in SuperuserInput) (identity.User, error) {
	if err := httpx.Validate(in); err != nil {
		return identity.User{}, err
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return identity.User{}, err
	}
	user, err := store.CreateUser(ctx, identity.User{Login: in.Username, Email: in.Email, PasswordHash: hash})
	if errors.Is(err, identity.ErrConflict) {
		return identity.User{}, fmt.Errorf("manage: user %q or email %q already exists", in.Username, in.Email)
	}
	if err != nil {
		return identity.User{}, err
	}

	role, err := store.GetRoleByName(ctx, roleName)
	if errors.Is(err, identity.ErrNotFound) {
		role, err = admin.CreateRole(ctx, roleName)
	}
	if err != nil {
		return identity.User{}, fmt.Errorf("manage: superadmin role: %w", err)
	}
	if _, err := admin.AssignRole(ctx, user.ID, role.ID); err != nil {
		return identity.User{}, fmt.Errorf("manage: assign superadmin: %w", err)
	}
	return user, nil
}

// readPassword prompts on out and reads one line from in.
func readPassword(in io.Reader, out io.Writer) (string, error) {
	_, _ = fmt.Fprint(out, "Password: ")
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
