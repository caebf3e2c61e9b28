package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/hmlr/titlewatch/service/sms"
	"github.com/urfave/cli/v2"
)

func validateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Usage:     "Check whether a phone number would be accepted for sending",
		ArgsUsage: "<phone-number>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: phone number")
			}
			number := c.Args().First()

			err := sms.ValidatePhoneNumber(number)

			if c.Bool("json") {
				result := map[string]interface{}{
					"number": number,
					"valid":  err == nil,
				}
				var rejected *sms.RejectedNumberError
				if errors.As(err, &rejected) {
					result["reason"] = string(rejected.Reason)
				}
				if encErr := outputJSON(out(c), result); encErr != nil {
					return encErr
				}
				return err
			}

			if err != nil {
				fmt.Fprintf(out(c), "✗ %s\n", number)
				return err
			}
			fmt.Fprintf(out(c), "✓ %s is valid\n", number)
			return nil
		},
	}
}

func renderCommand() *cli.Command {
	return &cli.Command{
		Name:      "render",
		Usage:     "Resolve a message template with infills",
		ArgsUsage: "<template> [infill0 infill1 ...]",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "trial",
				Usage:   "Render as sent from a trial account",
				EnvVars: []string{"TWILIO_IS_TRIAL"},
			},
			&cli.StringFlag{
				Name:  "title",
				Usage: "Title number; with --url, builds infill 0 from a UI URL template",
			},
			&cli.StringFlag{
				Name:  "url",
				Usage: "UI URL template containing %titleNumber%",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("requires a template name (see: titlewatch sms templates)")
			}

			catalog := sms.DefaultCatalog()
			t, ok := catalog.Get(c.Args().First())
			if !ok {
				return fmt.Errorf("unknown template %q", c.Args().First())
			}

			infills := c.Args().Tail()
			if c.String("url") != "" && c.String("title") != "" {
				infills = append([]string{sms.TitleLink(c.String("url"), c.String("title"))}, infills...)
			}

			body := sms.Resolve(t, c.Bool("trial"), infills...)

			if c.Bool("json") {
				return outputJSON(out(c), map[string]interface{}{
					"template": t.Name,
					"version":  t.Version,
					"body":     body,
				})
			}

			fmt.Fprintln(out(c), body)
			return nil
		},
	}
}

func templatesCommand() *cli.Command {
	return &cli.Command{
		Name:    "templates",
		Usage:   "List message templates",
		Aliases: []string{"ls"},
		Action: func(c *cli.Context) error {
			catalog := sms.DefaultCatalog()

			if c.Bool("json") {
				templates := make([]sms.Template, 0)
				for _, name := range catalog.Names() {
					templates = append(templates, catalog.MustGet(name))
				}
				return outputJSON(out(c), templates)
			}

			w := tabwriter.NewWriter(out(c), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tVERSION")
			for _, name := range catalog.Names() {
				fmt.Fprintf(w, "%s\t%d\n", name, catalog.MustGet(name).Version)
			}
			return w.Flush()
		},
	}
}
