package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/lodestone-kb/lodestone/internal/store"
)

// rowInput is the JSON shape accepted on stdin or from a file, one
// object per row.
type rowInput struct {
	ID             int64          `json:"id"`
	Type           string         `json:"type"`
	Title          string         `json:"title"`
	Permalink      *string        `json:"permalink"`
	FilePath       string         `json:"file_path"`
	ContentType    string         `json:"content_type"`
	ContentStems   string         `json:"content_stems"`
	ContentSnippet string         `json:"content_snippet"`
	Category       string         `json:"category"`
	RelationType   string         `json:"relation_type"`
	FromID         *int64         `json:"from_id"`
	ToID           *int64         `json:"to_id"`
	EntityID       *int64         `json:"entity_id"`
	Metadata       map[string]any `json:"metadata"`
}

func newIndexCmd() *cobra.Command {
	var project string
	var file string

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Index rows from a JSON stream",
		Long: `Reads a JSON array of row objects from stdin or --file and
upserts them into the search index in a single transaction.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			var in io.Reader = os.Stdin
			if file != "" {
				f, err := os.Open(file)
				if err != nil {
					return fmt.Errorf("failed to open %s: %w", file, err)
				}
				defer func() { _ = f.Close() }()
				in = f
			}

			rows, err := decodeRows(in)
			if err != nil {
				return err
			}
			if len(rows) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no rows to index")
				return nil
			}

			if err := e.store.BulkIndexItems(cmd.Context(), project, rows); err != nil {
				return fmt.Errorf("indexing failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "indexed %d rows into project %s\n", len(rows), project)
			return nil
		},
	}

	cmd.Flags().StringVar(&project, "project", "main", "Project scope for the rows")
	cmd.Flags().StringVar(&file, "file", "", "Read rows from this file instead of stdin")
	return cmd
}

// decodeRows reads a JSON array of row objects.
func decodeRows(in io.Reader) ([]*store.SearchIndexRow, error) {
	dec := json.NewDecoder(in)
	now := time.Now().UTC()

	var inputs []rowInput
	tok, err := dec.Token()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}

	if delim, ok := tok.(json.Delim); ok && delim == '[' {
		for dec.More() {
			var r rowInput
			if err := dec.Decode(&r); err != nil {
				return nil, fmt.Errorf("failed to decode row: %w", err)
			}
			inputs = append(inputs, r)
		}
	} else {
		return nil, fmt.Errorf("input must be a JSON array of row objects")
	}

	rows := make([]*store.SearchIndexRow, 0, len(inputs))
	for _, r := range inputs {
		rows = append(rows, &store.SearchIndexRow{
			ID:             r.ID,
			Type:           store.ItemType(r.Type),
			Title:          r.Title,
			Permalink:      r.Permalink,
			FilePath:       r.FilePath,
			ContentType:    r.ContentType,
			ContentStems:   r.ContentStems,
			ContentSnippet: r.ContentSnippet,
			Category:       r.Category,
			RelationType:   r.RelationType,
			FromID:         r.FromID,
			ToID:           r.ToID,
			EntityID:       r.EntityID,
			Metadata:       r.Metadata,
			CreatedAt:      now,
			UpdatedAt:      now,
		})
	}
	return rows, nil
}
