package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	errs "github.com/alexjbarnes/link-connect/internal/errors"
	"github.com/alexjbarnes/link-connect/link"
)

// emailArg returns args[i] when present, else the last email used.
func emailArg(a *app, args []string, i int) string {
	if len(args) > i {
		return args[i]
	}

	return a.state.LastEmail()
}

// signedIn looks up the consumer for email (or the stored cookie).
func signedIn(ctx context.Context, a *app, email string) (*link.Client, *link.Account, error) {
	client := a.link()

	res, err := client.LookupConsumerSession(ctx, email)
	if err != nil {
		return nil, nil, err
	}

	switch res.Kind {
	case link.LookupFound:
		if err := a.state.SetLastEmail(res.Account.Email); err != nil {
			a.logger.Warn("failed to save last email", slog.String("error", err.Error()))
		}

		return client, res.Account, nil
	case link.LookupNoAvailableParams:
		return nil, nil, fmt.Errorf("%w: email", errs.ErrMissingArgument)
	default:
		return nil, nil, fmt.Errorf("%w: %s", errs.ErrNoConsumer, link.NormalizeEmail(email))
	}
}

func cmdLookup(ctx context.Context, a *app, args []string) error {
	email := emailArg(a, args, 0)

	res, err := a.link().LookupConsumerSession(ctx, email)
	if err != nil {
		return err
	}

	switch res.Kind {
	case link.LookupNoAvailableParams:
		return fmt.Errorf("%w: email", errs.ErrMissingArgument)
	case link.LookupNotFound:
		return writeYAML(a.out, map[string]string{
			"email":   link.NormalizeEmail(email),
			"lookup":  res.Kind.String(),
			"message": res.Message,
		})
	}

	if err := a.state.SetLastEmail(res.Account.Email); err != nil {
		a.logger.Warn("failed to save last email", slog.String("error", err.Error()))
	}

	v := newAccountView(res.Account)
	v.Lookup = res.Kind.String()

	return writeYAML(a.out, v)
}

func cmdSignUp(ctx context.Context, a *app, args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("%w: signup needs email, phone and country", errs.ErrMissingArgument)
	}

	params := link.SignUpParams{
		EmailAddress:  args[0],
		PhoneNumber:   args[1],
		Country:       strings.ToUpper(args[2]),
		LegalName:     strings.Join(args[3:], " "),
		ConsentAction: "clicked_button_mobile",
	}

	resp, err := a.link().SignUp(ctx, params)
	if err != nil {
		return err
	}

	acct := link.NewAccount(link.NormalizeEmail(params.EmailAddress), &resp.ConsumerSession, resp.PublishableKey)

	if err := a.state.SetLastEmail(acct.Email); err != nil {
		a.logger.Warn("failed to save last email", slog.String("error", err.Error()))
	}

	return writeYAML(a.out, newAccountView(acct))
}

func cmdVerify(ctx context.Context, a *app, args []string) error {
	client, acct, err := signedIn(ctx, a, emailArg(a, args, 0))
	if err != nil {
		return err
	}

	if acct.State() == link.Verified {
		return writeYAML(a.out, newAccountView(acct))
	}

	if _, err := client.StartVerification(ctx, acct, ""); err != nil {
		return err
	}

	phone := "your phone"
	if s := acct.Session(); s != nil && s.RedactedFormattedPhone != "" {
		phone = s.RedactedFormattedPhone
	}

	code, err := a.prompt.ask(ctx, fmt.Sprintf("Enter the code sent to %s: ", phone))
	if err != nil {
		return fmt.Errorf("reading verification code: %w", err)
	}

	if _, err := client.ConfirmVerification(ctx, acct, code); err != nil {
		return err
	}

	if err := writeYAML(a.out, newAccountView(acct)); err != nil {
		return err
	}

	if acct.State() != link.Verified {
		return errs.ErrNotVerified
	}

	return nil
}

func cmdLogOut(ctx context.Context, a *app, args []string) error {
	client, acct, err := signedIn(ctx, a, emailArg(a, args, 0))
	if err != nil {
		return err
	}

	if err := client.LogOut(ctx, acct); err != nil {
		return err
	}

	return writeYAML(a.out, newAccountView(acct))
}

func cmdPaymentDetails(ctx context.Context, a *app, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: list, delete or share", errs.ErrMissingArgument)
	}

	sub, rest := args[0], args[1:]

	var id string

	if sub == "delete" || sub == "share" {
		if len(rest) == 0 {
			return fmt.Errorf("%w: payment details id", errs.ErrMissingArgument)
		}

		id, rest = rest[0], rest[1:]
	} else if sub != "list" {
		return fmt.Errorf("%w: payment-details %s", errs.ErrUnknownCommand, sub)
	}

	client, acct, err := signedIn(ctx, a, emailArg(a, rest, 0))
	if err != nil {
		return err
	}

	if acct.State() != link.Verified {
		return fmt.Errorf("%w: run linkctl verify first", errs.ErrNotVerified)
	}

	switch sub {
	case "delete":
		if err := client.DeletePaymentDetails(ctx, acct, id); err != nil {
			return err
		}

		return writeYAML(a.out, map[string]any{"id": id, "deleted": true})
	case "share":
		shared, err := client.SharePaymentDetails(ctx, acct, id)
		if err != nil {
			return err
		}

		return writeYAML(a.out, map[string]string{"id": id, "payment_method": shared})
	}

	list, err := client.ListPaymentDetails(ctx, acct)
	if err != nil {
		return err
	}

	views := make([]paymentDetailsView, 0, len(list))
	for _, pd := range list {
		views = append(views, newPaymentDetailsView(pd))
	}

	return writeYAML(a.out, views)
}

func cmdSessions(_ context.Context, a *app, _ []string) error {
	sessions, err := a.state.LinkedSessions()
	if err != nil {
		return fmt.Errorf("reading linked sessions: %w", err)
	}

	views := make([]linkedSessionView, 0, len(sessions))
	for _, ls := range sessions {
		views = append(views, newLinkedSessionView(ls))
	}

	return writeYAML(a.out, views)
}
