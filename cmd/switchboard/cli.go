package main

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/hpungsan/switchboard/internal/errors"
	"github.com/hpungsan/switchboard/internal/ops"
	"github.com/hpungsan/switchboard/internal/reconcile"
	"github.com/hpungsan/switchboard/internal/schedule"
	"github.com/hpungsan/switchboard/internal/web"
)

// newCLIApp creates the CLI application with all commands.
func newCLIApp(svc *ops.Service) *cli.App {
	app := &cli.App{
		Name:    "switchboard",
		Usage:   "Assistant capability switchboard",
		Version: Version,
		Commands: []*cli.Command{
			capabilityCmd(svc),
			channelCmd(svc),
			linksCmd(svc),
			stateCmd(svc),
			toggleCmd(svc),
			syncCmd(svc),
			refreshCmd(svc),
			serveCmd(svc),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

func assistantFlag(required bool) *cli.StringFlag {
	return &cli.StringFlag{Name: "assistant", Aliases: []string{"a"}, Required: required, Usage: "Assistant ID"}
}

// capabilityCmd creates the capability command group.
func capabilityCmd(svc *ops.Service) *cli.Command {
	return &cli.Command{
		Name:  "capability",
		Usage: "Manage the capability catalog",
		Subcommands: []*cli.Command{
			{
				Name:  "add",
				Usage: "Add a capability (--description=- reads markdown from stdin)",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "id", Usage: "Capability ID (generated when empty)"},
					&cli.StringFlag{Name: "name", Aliases: []string{"n"}, Required: true, Usage: "Display name"},
					&cli.StringFlag{Name: "description", Aliases: []string{"d"}, Usage: "Markdown description"},
					&cli.StringFlag{Name: "channel", Usage: "Default notification channel ID"},
				},
				Action: func(c *cli.Context) error {
					description := c.String("description")
					if description == "-" {
						text, err := readStdin()
						if err != nil {
							return outputError(errors.NewInternal(err))
						}
						description = text
					}

					output, err := svc.AddCapability(c.Context, ops.AddCapabilityInput{
						ID:                    c.String("id"),
						Name:                  c.String("name"),
						Description:           description,
						NotificationChannelID: c.String("channel"),
					})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
			{
				Name:  "list",
				Usage: "List catalog capabilities",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: ops.DefaultListLimit, Usage: "Maximum items to return"},
					&cli.IntFlag{Name: "offset", Aliases: []string{"o"}, Value: 0, Usage: "Items to skip"},
				},
				Action: func(c *cli.Context) error {
					output, err := svc.ListCapabilities(c.Context, ops.ListCapabilitiesInput{
						Limit:  c.Int("limit"),
						Offset: c.Int("offset"),
					})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
		},
	}
}

// channelCmd creates the channel command group.
func channelCmd(svc *ops.Service) *cli.Command {
	return &cli.Command{
		Name:  "channel",
		Usage: "Manage notification channels",
		Subcommands: []*cli.Command{
			{
				Name:  "add",
				Usage: "Register a notification channel",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "id", Usage: "Channel ID (generated when empty)"},
					&cli.StringFlag{Name: "name", Aliases: []string{"n"}, Required: true, Usage: "Display name"},
					&cli.StringFlag{Name: "kind", Aliases: []string{"k"}, Required: true, Usage: "Channel kind: telegram|webhook|email|..."},
					&cli.BoolFlag{Name: "disabled", Usage: "Register the channel as inactive"},
				},
				Action: func(c *cli.Context) error {
					input := ops.AddChannelInput{
						ID:   c.String("id"),
						Name: c.String("name"),
						Kind: c.String("kind"),
					}
					if c.Bool("disabled") {
						enabled := false
						input.Enabled = &enabled
					}

					output, err := svc.AddChannel(c.Context, input)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
			{
				Name:  "list",
				Usage: "List notification channels",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "active", Usage: "Only list enabled channels"},
				},
				Action: func(c *cli.Context) error {
					channels, err := svc.ListChannels(c.Context, c.Bool("active"))
					if err != nil {
						return outputError(err)
					}
					return outputJSON(map[string]any{"items": channels})
				},
			},
		},
	}
}

// linksCmd creates the links command.
func linksCmd(svc *ops.Service) *cli.Command {
	return &cli.Command{
		Name:  "links",
		Usage: "List an assistant's capability links",
		Flags: []cli.Flag{assistantFlag(true)},
		Action: func(c *cli.Context) error {
			links, err := svc.Links(c.Context, c.String("assistant"))
			if err != nil {
				return outputError(err)
			}
			return outputJSON(map[string]any{"items": links})
		},
	}
}

// stateCmd creates the state command.
func stateCmd(svc *ops.Service) *cli.Command {
	return &cli.Command{
		Name:  "state",
		Usage: "Show the presented state of one capability or a whole assistant",
		Flags: []cli.Flag{
			assistantFlag(true),
			&cli.StringFlag{Name: "capability", Aliases: []string{"c"}, Usage: "Capability ID (all when empty)"},
		},
		Action: func(c *cli.Context) error {
			if id := c.String("capability"); id != "" {
				output, err := svc.PresentedState(c.Context, c.String("assistant"), id)
				if err != nil {
					return outputError(err)
				}
				return outputJSON(output)
			}

			output, err := svc.AssistantState(c.Context, c.String("assistant"))
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// toggleCmd creates the toggle command. It waits for the transition to settle.
func toggleCmd(svc *ops.Service) *cli.Command {
	return &cli.Command{
		Name:  "toggle",
		Usage: "Switch a capability on (or off with --off) and wait for it to settle",
		Flags: []cli.Flag{
			assistantFlag(true),
			&cli.StringFlag{Name: "capability", Aliases: []string{"c"}, Required: true, Usage: "Capability ID"},
			&cli.StringFlag{Name: "channel", Usage: "Notification channel ID (required when switching on)"},
			&cli.BoolFlag{Name: "off", Usage: "Switch the capability off"},
		},
		Action: func(c *cli.Context) error {
			input := ops.ToggleInput{
				AssistantID:  c.String("assistant"),
				CapabilityID: c.String("capability"),
				ChannelID:    c.String("channel"),
				Enabled:      !c.Bool("off"),
			}

			result := map[string]any{}
			if err := svc.Toggle(c.Context, input); err != nil {
				if !errors.IsWarning(err) {
					return outputError(err)
				}
				result["warning"] = warningObject(err)
			}

			state, err := svc.PresentedState(c.Context, input.AssistantID, input.CapabilityID)
			if err != nil {
				return outputError(err)
			}
			result["state"] = state
			return outputJSON(result)
		},
	}
}

// syncCmd creates the sync command.
func syncCmd(svc *ops.Service) *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Push enabled links to the remote platform (all assistants when --assistant is empty)",
		Flags: []cli.Flag{assistantFlag(false)},
		Action: func(c *cli.Context) error {
			output, err := svc.Sync(c.Context, c.String("assistant"))
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// refreshCmd creates the refresh command.
func refreshCmd(svc *ops.Service) *cli.Command {
	return &cli.Command{
		Name:  "refresh",
		Usage: "Re-poll both stores for an assistant and report drift",
		Flags: []cli.Flag{assistantFlag(true)},
		Action: func(c *cli.Context) error {
			output, err := svc.Refresh(c.Context, c.String("assistant"))
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// serveCmd creates the serve command: the web console plus the poller.
func serveCmd(svc *ops.Service) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the web console",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bind", Aliases: []string{"b"}, Value: "127.0.0.1", Usage: "Address to bind"},
			&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Value: 8750, Usage: "Port to listen on"},
			&cli.BoolFlag{Name: "no-poll", Usage: "Do not poll watched assistants"},
		},
		Action: func(c *cli.Context) error {
			var poller *reconcile.Poller
			if !c.Bool("no-poll") {
				p, err := startPoller(svc)
				if err != nil {
					return outputError(errors.NewInvalidRequest(err.Error()))
				}
				poller = p
			}

			srv := web.NewServer(svc, Version, c.String("bind"), c.Int("port"))
			return web.Run(srv, func() {
				if poller != nil {
					poller.Stop()
				}
				svc.Wait()
			})
		},
	}
}

// startPoller starts refreshing the configured assistants on the poll
// interval. An empty interval disables polling and returns nil.
func startPoller(svc *ops.Service) (*reconcile.Poller, error) {
	cfg := svc.Config()
	if strings.TrimSpace(cfg.PollInterval) == "" {
		return nil, nil
	}

	ticker, err := schedule.NewCronTicker(cfg.PollInterval, nil)
	if err != nil {
		return nil, err
	}
	poller := reconcile.NewPoller(svc.Coordinator(), ticker, cfg.WatchedAssistants, svc.Notices())
	if err := poller.Start(context.Background()); err != nil {
		return nil, err
	}
	return poller, nil
}

// Helper functions

// outputJSON marshals result to stdout as JSON.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	var sErr *errors.Error
	if stderrors.As(err, &sErr) {
		return cli.Exit(fmt.Sprintf("[%s] %s", sErr.Code, sErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}

// warningObject renders a warning for JSON output.
func warningObject(err error) map[string]any {
	var sErr *errors.Error
	if !stderrors.As(err, &sErr) {
		return map[string]any{"message": err.Error()}
	}
	return map[string]any{
		"code":    string(sErr.Code),
		"message": sErr.Message,
		"details": sErr.Details,
	}
}

// readStdin reads all content from stdin.
func readStdin() (string, error) {
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
