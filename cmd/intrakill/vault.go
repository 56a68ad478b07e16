package main

import (
	"fmt"

	"github.com/TemirkhanN/intrakill/db"
	"github.com/TemirkhanN/intrakill/models"
	"github.com/TemirkhanN/intrakill/store"
	"github.com/apex/log"
	"github.com/dustin/go-humanize"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"
)

func newTagsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "tags",
		Short: "List tags, most used first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withVault(cmd.Context(), func(vault store.MediaVault) error {
				tags, err := vault.ListTags(cmd.Context())
				if err != nil {
					return err
				}
				for _, tag := range tags {
					fmt.Fprintf(a.out, "%-32s  %d\n", tag.Name, tag.Frequency)
				}
				return nil
			})
		},
	}
}

func newEventsCmd(a *app) *cobra.Command {
	var (
		limit      int
		eventTypes []string
	)

	cmd := &cobra.Command{
		Use:   "events",
		Short: "List the vault event log, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter := db.VaultEventQueryFilter{}
			if limit > 0 {
				filter.Limit = &limit
			}
			for _, eventType := range eventTypes {
				filter.EventTypes = append(filter.EventTypes, models.VaultEventTypeENUMType(eventType))
			}

			validate, err := models.NewValidator()
			if err != nil {
				return err
			}

			return a.withVault(cmd.Context(), func(vault store.MediaVault) error {
				events, err := vault.ListEvents(cmd.Context(), filter)
				if err != nil {
					return err
				}
				for _, event := range events {
					fmt.Fprintf(
						a.out, "%-16s  %-15s  %s\n",
						humanize.Time(event.CreatedTime()), event.EventType, describeEvent(validate, event),
					)
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of events, zero for all")
	cmd.Flags().StringSliceVar(&eventTypes, "type", nil, "only events of these types")

	return cmd
}

// describeEvent one line summary of the event metadata
func describeEvent(validate *validator.Validate, event models.VaultEvent) string {
	metadata, err := event.ParseMetadata(validate)
	if err != nil {
		log.WithError(err).WithField("event", event.ID).Debug("Unreadable event metadata")
		return ""
	}
	switch parsed := metadata.(type) {
	case models.VaultEventEntryRelated:
		return fmt.Sprintf("%s (%s)", parsed.EntryName, parsed.EntryID)
	case models.VaultEventTransferRelated:
		if parsed.Peer == "" {
			return humanize.Bytes(uint64(parsed.Bytes))
		}
		return fmt.Sprintf("%s with %s", humanize.Bytes(uint64(parsed.Bytes)), parsed.Peer)
	}
	return ""
}
