package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/TemirkhanN/intrakill/media"
	"github.com/TemirkhanN/intrakill/models"
	"github.com/TemirkhanN/intrakill/store"
	"github.com/apex/log"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newAddCmd(a *app) *cobra.Command {
	var tags []string

	cmd := &cobra.Command{
		Use:   "add NAME FILE...",
		Short: "Store media files as a new entry",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			entry, err := a.composeEntry(cmd.Context(), args[0], args[1:], tags)
			if err != nil {
				return err
			}
			validate, err := models.NewValidator()
			if err != nil {
				return err
			}
			if err := models.CheckEntryDraft(validate, entry); err != nil {
				return a.report(err)
			}

			return a.withVault(cmd.Context(), func(vault store.MediaVault) error {
				stored, err := vault.Save(cmd.Context(), entry)
				if err != nil {
					return a.report(err)
				}
				fmt.Fprintf(a.out, "%s\n", stored.ID)
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&tags, "tag", "t", nil, "entry tag, repeatable")

	return cmd
}

// composeEntry build a new entry from media files
func (a *app) composeEntry(
	ctx context.Context, name string, files []string, tags []string,
) (models.Entry, error) {
	previewer := media.NewPreviewGenerator(a.cfg.Preview.FFmpeg, a.cfg.Vault.TempDir)

	attachments := []models.Attachment{}
	for _, file := range files {
		picked, err := media.PickFile(file)
		if err != nil {
			return models.Entry{}, err
		}

		preview, err := previewer.Generate(ctx, picked.Source, picked.MimeType, a.cfg.Preview.Size)
		if err != nil {
			log.WithError(err).WithField("file", file).Warn("Preview failed, using placeholder")
			if preview, err = (media.PlaceholderPreviewer{}).Generate(
				ctx, picked.Source, picked.MimeType, a.cfg.Preview.Size,
			); err != nil {
				return models.Entry{}, err
			}
		}

		attachment, err := models.NewAttachment(picked.MimeType, picked.Source, preview, picked.Size)
		if err != nil {
			return models.Entry{}, err
		}
		attachments = append(attachments, attachment)
	}

	return models.NewEntry(name, nil, tags, attachments), nil
}

func newListCmd(a *app) *cobra.Command {
	var (
		tags []string
		page int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List entries, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if page < 1 {
				return fmt.Errorf("invalid page %d", page)
			}
			return a.withVault(cmd.Context(), func(vault store.MediaVault) error {
				limit := a.cfg.Listing.PageSize
				offset := (page - 1) * limit
				result, err := vault.FindEntriesPage(cmd.Context(), store.EntryFilter{
					Limit: &limit, Offset: &offset, Tags: tags,
				})
				if err != nil {
					return err
				}

				for _, entry := range result.Entries {
					fmt.Fprintf(
						a.out, "%s  %-32s  %s\n",
						entry.ID, entry.Name, humanize.Time(entry.CreatedTime()),
					)
				}
				fmt.Fprintf(
					a.out, "page %d of %d (%d entries)\n",
					page, pageCount(result.OutOfTotal, limit), result.OutOfTotal,
				)
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&tags, "tag", "t", nil, "only entries carrying every tag")
	cmd.Flags().IntVarP(&page, "page", "p", 1, "page number")

	return cmd
}

// pageCount number of pages needed for a total, at least one
func pageCount(total int64, pageSize int) int64 {
	if total == 0 {
		return 1
	}
	return (total + int64(pageSize) - 1) / int64(pageSize)
}

func newShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show an entry with its tags and attachments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withVault(cmd.Context(), func(vault store.MediaVault) error {
				entry, err := loadEntry(cmd.Context(), vault, args[0])
				if err != nil {
					return err
				}

				fmt.Fprintf(a.out, "ID:      %s\n", entry.ID)
				fmt.Fprintf(a.out, "Name:    %s\n", entry.Name)
				fmt.Fprintf(a.out, "Created: %s\n", entry.CreatedTime().Format("2006-01-02 15:04:05"))
				fmt.Fprintf(a.out, "Tags:    %s\n", strings.Join(entry.Tags, ", "))
				for _, attachment := range entry.Attachments {
					fmt.Fprintf(
						a.out, "  %s  %-12s  %8s  %s\n",
						attachment.ID,
						attachment.MimeType,
						humanize.Bytes(uint64(attachment.Size)),
						hex.EncodeToString(attachment.Hashsum),
					)
				}
				return nil
			})
		},
	}
}

func newExtractCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "extract ID DIR",
		Short: "Write the attachment contents of an entry into a directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			outDir := args[1]
			if err := os.MkdirAll(outDir, 0o700); err != nil {
				return fmt.Errorf("failed to prepare %s [%w]", outDir, err)
			}
			return a.withVault(cmd.Context(), func(vault store.MediaVault) error {
				entry, err := loadEntry(cmd.Context(), vault, args[0])
				if err != nil {
					return err
				}
				for _, attachment := range entry.Attachments {
					target := filepath.Join(outDir, attachment.ID+media.ExtensionFor(attachment.MimeType))
					written, err := extractAttachment(attachment, target)
					if err != nil {
						return err
					}
					fmt.Fprintf(a.out, "%s  %s\n", target, humanize.Bytes(uint64(written)))
				}
				return nil
			})
		},
	}
}

// extractAttachment stream attachment content into a file
func extractAttachment(attachment models.Attachment, target string) (int64, error) {
	reader, err := attachment.Content.Open()
	if err != nil {
		return 0, fmt.Errorf("failed to read attachment %s [%w]", attachment.ID, err)
	}
	defer func() {
		_ = reader.Close()
	}()

	output, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return 0, fmt.Errorf("failed to create %s [%w]", target, err)
	}
	written, err := io.Copy(output, reader)
	if closeErr := output.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return 0, fmt.Errorf("failed to write %s [%w]", target, err)
	}
	return written, nil
}

func newDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete an entry with its attachments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withVault(cmd.Context(), func(vault store.MediaVault) error {
				return vault.DeleteByID(cmd.Context(), args[0])
			})
		},
	}
}

// loadEntry fetch one entry with its details
func loadEntry(ctx context.Context, vault store.MediaVault, entryID string) (models.Entry, error) {
	entry, err := vault.GetByID(ctx, entryID)
	if err != nil {
		return models.Entry{}, err
	}
	return vault.LoadDetails(ctx, entry)
}
