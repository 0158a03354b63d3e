package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/fedinode/internal/client/client"
	"github.com/dmitrijs2005/fedinode/internal/common"
)

// getSimpleText and getPassword are indirections used to facilitate testing.
// They point to interactive input helpers and can be swapped in tests.
var getSimpleText = GetSimpleText
var getPassword = GetPassword

func (a *App) Ping(ctx context.Context) error {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	if err := a.api.Ping(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "OK")
	return nil
}

// Signup asks for a password, creates a new local identity and prints the
// handle the node issued for it.
func (a *App) Signup(ctx context.Context) error {
	password, err := getPassword(a.out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)

	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	resp, err := a.api.Signup(ctx, password)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "Created %s (guid %s)\n", resp.Handle, resp.GUID)
	return nil
}

// Login prompts for a handle and password and opens a session. The
// password is wiped before returning.
func (a *App) Login(ctx context.Context) error {
	handle, err := getSimpleText(a.reader, "Enter handle (user@host)", a.out)
	if err != nil {
		return err
	}

	password, err := getPassword(a.out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)

	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	if err := a.api.Login(ctx, handle, password); err != nil {
		if errors.Is(err, client.ErrUnauthorized) {
			return errors.New("login unsuccessful: wrong handle or password")
		}
		return err
	}

	a.handle = handle
	fmt.Fprintln(a.out, "Login successful")
	return nil
}

func (a *App) Logout(ctx context.Context) error {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	if err := a.api.Logout(ctx); err != nil {
		return err
	}
	a.handle = ""
	fmt.Fprintln(a.out, "Logged out")
	return nil
}

// DeleteAccount asks for confirmation, then retracts the account from the
// network and ends the session.
func (a *App) DeleteAccount(ctx context.Context) error {
	answer, err := getSimpleText(a.reader, "Delete this account everywhere? Type 'yes' to confirm", a.out)
	if err != nil {
		return err
	}
	if answer != "yes" {
		fmt.Fprintln(a.out, "Cancelled")
		return nil
	}

	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	if err := a.api.DeleteAccount(ctx); err != nil {
		return err
	}
	a.handle = ""
	fmt.Fprintln(a.out, "Account deleted")
	return nil
}
