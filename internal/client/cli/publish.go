package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/dmitrijs2005/fedinode/internal/adminrpc"
)

// Indirections for the prompts used here; tests swap them.
var (
	getMultiline = GetMultiline
	getLines     = GetLines
	readFile     = os.ReadFile
)

func (a *App) Follow(ctx context.Context, handle string, unfollow bool) error {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	if err := a.api.Follow(ctx, handle, unfollow); err != nil {
		return err
	}
	if unfollow {
		fmt.Fprintf(a.out, "Stopped following %s\n", handle)
	} else {
		fmt.Fprintf(a.out, "Following %s\n", handle)
	}
	return nil
}

// readImage loads path as an attachment; an empty path means none.
func readImage(path, caption string) (*adminrpc.Image, error) {
	if path == "" {
		return nil, nil
	}
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}
	return &adminrpc.Image{ContentType: http.DetectContentType(data), Data: data, Caption: caption}, nil
}

func (a *App) printPublished(resp *adminrpc.PublishResponse) {
	fmt.Fprintf(a.out, "Published %s\n", resp.GUID)
	if resp.DeliveryError != "" {
		fmt.Fprintf(a.out, "Some deliveries failed: %s\n", resp.DeliveryError)
	}
}

// Post walks the user through a new thread: visibility, recipients, text,
// and an optional poll and image.
func (a *App) Post(ctx context.Context) error {
	visibility, err := getSimpleText(a.reader, "Visibility (public, limited, private)", a.out)
	if err != nil {
		return err
	}

	req := &adminrpc.PublishRequest{Visibility: strings.ToLower(visibility)}

	if req.Visibility != "public" {
		if req.Recipients, err = getLines(a.reader, "Recipients, one handle per line", a.out); err != nil {
			return err
		}
	}
	if req.Visibility == "private" {
		if req.Subject, err = getSimpleText(a.reader, "Subject", a.out); err != nil {
			return err
		}
	}

	if req.Text, err = getMultiline(a.reader, "Text", a.out); err != nil {
		return err
	}

	if req.PollQuestion, err = getSimpleText(a.reader, "Poll question (empty for none)", a.out); err != nil {
		return err
	}
	if req.PollQuestion != "" {
		if req.PollAnswers, err = getLines(a.reader, "Poll answers, one per line", a.out); err != nil {
			return err
		}
	}

	path, err := getSimpleText(a.reader, "Image file (empty for none)", a.out)
	if err != nil {
		return err
	}
	if req.Image, err = readImage(path, ""); err != nil {
		return err
	}

	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	resp, err := a.api.Publish(ctx, req)
	if err != nil {
		return err
	}
	a.printPublished(resp)
	return nil
}

// Reply comments on guid. The reply takes the thread's visibility.
func (a *App) Reply(ctx context.Context, guid string) error {
	text, err := getMultiline(a.reader, "Reply text", a.out)
	if err != nil {
		return err
	}

	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	resp, err := a.api.Reply(ctx, &adminrpc.ReplyRequest{ParentGUID: guid, Text: text})
	if err != nil {
		return err
	}
	a.printPublished(resp)
	return nil
}

func (a *App) Reshare(ctx context.Context, guid string) error {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	resp, err := a.api.Reshare(ctx, guid)
	if err != nil {
		return err
	}
	a.printPublished(resp)
	return nil
}

// Profile edits the public profile and pushes it to followers.
func (a *App) Profile(ctx context.Context) error {
	req := &adminrpc.ProfileRequest{}
	var err error

	if req.DisplayName, err = getSimpleText(a.reader, "Display name", a.out); err != nil {
		return err
	}
	if req.Bio, err = getMultiline(a.reader, "Bio", a.out); err != nil {
		return err
	}
	if req.Tags, err = getLines(a.reader, "Tags, one per line", a.out); err != nil {
		return err
	}

	path, err := getSimpleText(a.reader, "Avatar image file (empty to keep)", a.out)
	if err != nil {
		return err
	}
	if req.Avatar, err = readImage(path, ""); err != nil {
		return err
	}

	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	if err := a.api.UpdateProfile(ctx, req); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Profile updated")
	return nil
}
