package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/reader-dict/website/internal/catalog"
	"github.com/reader-dict/website/internal/orders"
	"github.com/reader-dict/website/internal/platform/config"
	"github.com/spf13/cobra"
)

func ordersCmd(loadConfig func() (*config.Config, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orders",
		Short: "Inspect and amend purchases and subscriptions",
	}

	cmd.AddCommand(ordersListCmd(loadConfig))
	cmd.AddCommand(ordersShowCmd(loadConfig))
	cmd.AddCommand(ordersOverrideCmd(loadConfig))
	cmd.AddCommand(ordersLinkCmd(loadConfig))
	cmd.AddCommand(ordersNotifyCmd(loadConfig))
	return cmd
}

func ordersListCmd(loadConfig func() (*config.Config, error)) *cobra.Command {
	var source string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all orders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(loadConfig)
			if err != nil {
				return err
			}

			all := e.orders.LoadAll()
			ids := make([]string, 0, len(all))
			for id, o := range all {
				if source == "" || o.Source == source {
					ids = append(ids, id)
				}
			}
			slices.Sort(ids)

			now := time.Now()
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTYPE\tSOURCE\tDICTIONARY\tSTATUS\tUPDATED\tACCESS")
			for _, id := range ids {
				o := all[id]
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					o.ID, o.Type(), o.Source, dictionaryLabel(o), o.Status, o.StatusUpdateTime, access(o, now))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVarP(&source, "source", "s", "", "Only list orders paid through this provider")
	return cmd
}

func ordersShowCmd(loadConfig func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "show [id]",
		Short: "Print one order as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(loadConfig)
			if err != nil {
				return err
			}
			o, err := lookup(e, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), o)
		},
	}
}

func ordersOverrideCmd(loadConfig func() (*config.Config, error)) *cobra.Command {
	var remove bool

	cmd := &cobra.Command{
		Use:   "override [id] [dictionary]",
		Short: "Grant an order another dictionary than the one it paid for",
		Args: func(cmd *cobra.Command, args []string) error {
			if remove {
				return cobra.ExactArgs(1)(cmd, args)
			}
			return cobra.ExactArgs(2)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(loadConfig)
			if err != nil {
				return err
			}

			override := ""
			if !remove {
				entry, err := e.catalog.ByName(args[1])
				if errors.Is(err, catalog.ErrNotFound) {
					return fmt.Errorf("dictionary %q does not exist or is disabled", args[1])
				}
				if err != nil {
					return err
				}
				override = entry.Name
			}

			current, err := lookup(e, args[0])
			if err != nil {
				return err
			}

			o, changed, err := e.orders.Transition(cmd.Context(), orders.ByID(current.ID), func(o *orders.Order) bool {
				if o.DictionaryOverride == override {
					return false
				}
				o.DictionaryOverride = override
				return true
			})
			if err != nil {
				return err
			}

			e.logger.Info("dictionary override set", "order_id", o.ID, "override", override, "changed", changed)
			link, err := o.DownloadLink(e.cfg.Security.Pepper)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s now grants %s\n%s\n", o.ID, o.TargetDictionary(), e.absoluteLink(link))
			return nil
		},
	}

	cmd.Flags().BoolVar(&remove, "clear", false, "Remove the override instead of setting one")
	return cmd
}

func ordersLinkCmd(loadConfig func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "link [id]",
		Short: "Print the download page URL of an order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(loadConfig)
			if err != nil {
				return err
			}
			o, err := lookup(e, args[0])
			if err != nil {
				return err
			}
			link, err := o.DownloadLink(e.cfg.Security.Pepper)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), e.absoluteLink(link))
			return nil
		},
	}
}

func ordersNotifyCmd(loadConfig func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "notify [id]",
		Short: "Queue the download link notification again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(loadConfig)
			if err != nil {
				return err
			}
			o, err := lookup(e, args[0])
			if err != nil {
				return err
			}
			link, err := o.DownloadLink(e.cfg.Security.Pepper)
			if err != nil {
				return err
			}
			if err := e.outbox.Notify(cmd.Context(), o, link); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "notification queued for %s\n", o.Email)
			return nil
		},
	}
}

// lookup finds an order by id, or by invoice id for refunds reported
// with the capture reference.
func lookup(e *env, key string) (orders.Order, error) {
	if o, ok := e.orders.Get(key); ok {
		return o, nil
	}
	if o, ok := e.orders.GetByInvoice(key); ok {
		return o, nil
	}
	return orders.Order{}, fmt.Errorf("no order %q", key)
}

func dictionaryLabel(o orders.Order) string {
	if o.DictionaryOverride == "" {
		return o.Dictionary
	}
	return o.Dictionary + " -> " + o.DictionaryOverride
}

func access(o orders.Order, now time.Time) string {
	if o.StatusOK(now) {
		return "yes"
	}
	return "no"
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "    ")
	return enc.Encode(v)
}

func metricsCmd(loadConfig func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "metrics [dictionary]",
		Short: "Print download counters",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(loadConfig)
			if err != nil {
				return err
			}
			counters := e.metrics.Read()
			if len(args) == 1 {
				name := strings.TrimSpace(args[0])
				return printJSON(cmd.OutOrStdout(), counters[name])
			}
			return printJSON(cmd.OutOrStdout(), counters)
		},
	}
}

func outboxCmd(loadConfig func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "outbox",
		Short: "List notifications waiting for the mailer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(loadConfig)
			if err != nil {
				return err
			}
			pending, err := e.outbox.Pending()
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ORDER\tKIND\tTO\tQUEUED")
			for _, m := range pending {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", m.OrderID, m.Kind, m.To, m.Queued)
			}
			return tw.Flush()
		},
	}
}
