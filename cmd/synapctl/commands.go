package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/xeonx/timeago"

	"github.com/synapkit/synapd/internal/database"
	"github.com/synapkit/synapd/pkg/event"
	"github.com/synapkit/synapd/pkg/plugin"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show kernel status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var status map[string]any
			if err := api().do("GET", "/api/status", nil, &status); err != nil {
				return err
			}
			for _, key := range []string{"uptime_seconds", "plugins", "history_events", "subscribers"} {
				fmt.Printf("%-16s %v\n", key, status[key])
			}
			return nil
		},
	}
}

func pluginsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugins",
		Short: "Inspect installed plugins",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List installed plugins",
		RunE: func(*cobra.Command, []string) error {
			var out struct {
				Plugins []struct {
					Manifest             plugin.Manifest `json:"manifest"`
					EffectivePermissions []string        `json:"effective_permissions"`
				} `json:"plugins"`
			}
			if err := api().do("GET", "/api/plugins", nil, &out); err != nil {
				return err
			}
			for _, p := range out.Plugins {
				perms := "-"
				if len(p.EffectivePermissions) > 0 {
					perms = strings.Join(p.EffectivePermissions, ",")
				}
				fmt.Printf("%-20s %-10s %-12s %s\n",
					p.Manifest.ID, p.Manifest.Version, p.Manifest.Category, perms)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "config <plugin-id> [key value]",
		Short: "Show or set plugin configuration",
		Args:  cobra.RangeArgs(1, 3),
		RunE: func(_ *cobra.Command, args []string) error {
			id := args[0]
			if len(args) == 3 {
				return api().do("PUT", "/api/plugins/"+id+"/config",
					map[string]string{"key": args[1], "value": args[2]}, nil)
			}
			var out struct {
				Config map[string]string `json:"config"`
			}
			if err := api().do("GET", "/api/plugins/"+id+"/config", nil, &out); err != nil {
				return err
			}
			for key, value := range out.Config {
				fmt.Printf("%s=%s\n", key, value)
			}
			return nil
		},
	})

	return cmd
}

func eventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Inspect and follow the event stream",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Show recent events",
		RunE: func(*cobra.Command, []string) error {
			var out struct {
				Events []*event.Event `json:"events"`
			}
			if err := api().do("GET", "/api/events?limit=50", nil, &out); err != nil {
				return err
			}
			for _, ev := range out.Events {
				fmt.Printf("%-22s %-20s %s\n",
					ev.Data.Kind(), timeago.English.Format(ev.Timestamp), summarize(ev))
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "tail",
		Short: "Follow the live event stream (SSE)",
		RunE: func(*cobra.Command, []string) error {
			resp, err := api().stream("/api/events/stream")
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			scanner := bufio.NewScanner(resp.Body)
			for scanner.Scan() {
				line := scanner.Text()
				if !strings.HasPrefix(line, "data: ") {
					continue
				}
				payload := strings.TrimPrefix(line, "data: ")
				var ev event.Event
				if err := json.Unmarshal([]byte(payload), &ev); err != nil {
					continue // connection hello / lag markers
				}
				fmt.Printf("%s %-22s %s\n",
					ev.Timestamp.Local().Format(time.TimeOnly), ev.Data.Kind(), summarize(&ev))
			}
			return scanner.Err()
		},
	})

	return cmd
}

func permissionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "permissions",
		Short: "Human-in-the-loop permission approvals",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "pending",
		Short: "List permission requests awaiting a decision",
		RunE: func(*cobra.Command, []string) error {
			var out struct {
				Requests []database.PermissionRequest `json:"requests"`
			}
			if err := api().do("GET", "/api/permissions/pending", nil, &out); err != nil {
				return err
			}
			if len(out.Requests) == 0 {
				fmt.Println("no pending requests")
				return nil
			}
			for _, req := range out.Requests {
				fmt.Printf("%s  %-20s %-16s %s\n",
					req.ID, req.PluginID, req.Permission, timeago.English.Format(req.CreatedAt))
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "approve <request-id>",
		Short: "Approve a pending request",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return api().do("POST", "/api/permissions/"+args[0]+"/approve", map[string]string{}, nil)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "deny <request-id>",
		Short: "Deny a pending request",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return api().do("POST", "/api/permissions/"+args[0]+"/deny", map[string]string{}, nil)
		},
	})

	return cmd
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage stored admin API tokens",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "create <label>",
		Short: "Create a stored token (printed once)",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			var out struct {
				ID    string `json:"id"`
				Token string `json:"token"`
			}
			if err := api().do("POST", "/api/tokens", map[string]string{"label": args[0]}, &out); err != nil {
				return err
			}
			fmt.Printf("id:    %s\ntoken: %s\n", out.ID, out.Token)
			fmt.Println("store the token now; it is not shown again")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "revoke <token-id>",
		Short: "Revoke a stored token",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return api().do("DELETE", "/api/tokens/"+args[0], nil, nil)
		},
	})

	return cmd
}

// summarize renders a one-line view of an event for terminal output.
func summarize(ev *event.Event) string {
	switch data := ev.Data.(type) {
	case event.SystemNotification:
		return data.Text
	case event.MessageReceived:
		return fmt.Sprintf("[%s] %s", data.Message.Source.Kind, data.Message.Content)
	case event.ThoughtRequested:
		return fmt.Sprintf("engine=%s %q", data.EngineID, data.Message.Content)
	case event.ThoughtResponse:
		return fmt.Sprintf("engine=%s %q", data.EngineID, data.Content)
	case event.ConfigUpdated:
		return fmt.Sprintf("plugin=%s key=%s", data.PluginID, data.Key)
	case event.PermissionGranted:
		return fmt.Sprintf("%s += %s", data.PluginID, data.Permission)
	case event.PermissionRevoked:
		return fmt.Sprintf("%s -= %s", data.PluginID, data.Permission)
	default:
		return ""
	}
}
