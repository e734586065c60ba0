package cmd

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/lodestone-kb/lodestone/internal/store"
)

func newSearchCmd() *cobra.Command {
	var (
		project    string
		mode       string
		limit      int
		offset     int
		prefix     bool
		title      string
		permalink  string
		entityType []string
		itemType   []string
		afterDate  string
		metaSpecs  []string
		asJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search the index",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			q := &store.SearchQuery{
				Prefix:    prefix,
				Title:     title,
				Permalink: permalink,
			}
			if len(args) > 0 {
				q.Text = args[0]
			}
			if strings.Contains(permalink, "*") {
				q.Permalink = ""
				q.PermalinkPattern = permalink
			}
			q.EntityTypes = entityType
			for _, t := range itemType {
				q.ItemTypes = append(q.ItemTypes, store.ItemType(t))
			}
			if afterDate != "" {
				ts, err := time.Parse(time.RFC3339, afterDate)
				if err != nil {
					return fmt.Errorf("invalid --after-date %q: %w", afterDate, err)
				}
				q.AfterDate = &ts
			}
			q.Metadata = parseMetaSpecs(metaSpecs)

			rows, err := e.executor.Search(cmd.Context(), project, q, store.SearchMode(mode), limit, offset)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(rows)
			}
			for i, row := range rows {
				fmt.Fprintf(cmd.OutOrStdout(), "%2d. [%.4f] %s (%s)\n",
					i+1+offset, row.Score, row.Title, row.PermalinkOrEmpty())
			}
			if len(rows) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no results")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&project, "project", "main", "Project scope")
	cmd.Flags().StringVar(&mode, "mode", "hybrid", "Search mode: lexical, vector, or hybrid")
	cmd.Flags().IntVar(&limit, "limit", 10, "Maximum results")
	cmd.Flags().IntVar(&offset, "offset", 0, "Results to skip")
	cmd.Flags().BoolVar(&prefix, "prefix", false, "Prefix-match each query word")
	cmd.Flags().StringVar(&title, "title", "", "Match against titles only")
	cmd.Flags().StringVar(&permalink, "permalink", "", "Exact permalink or glob pattern with *")
	cmd.Flags().StringSliceVar(&entityType, "entity-type", nil, "Filter by entity type")
	cmd.Flags().StringSliceVar(&itemType, "item-type", nil, "Filter by item type (entity, observation, relation)")
	cmd.Flags().StringVar(&afterDate, "after-date", "", "Only rows created after this RFC3339 timestamp")
	cmd.Flags().StringSliceVar(&metaSpecs, "meta", nil, "Metadata filter field:op:value (e.g. status:eq:active)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit results as JSON")
	return cmd
}

// parseMetaSpecs turns field:op:value CLI specs into filter inputs.
// Validation happens in the store layer.
func parseMetaSpecs(specs []string) []store.MetadataFilter {
	var filters []store.MetadataFilter
	for _, spec := range specs {
		parts := strings.SplitN(spec, ":", 3)
		f := store.MetadataFilter{Field: parts[0], Op: store.FilterOpEq}
		if len(parts) >= 2 {
			f.Op = store.FilterOp(parts[1])
		}
		if len(parts) == 3 {
			if strings.Contains(parts[2], ",") {
				var list []any
				for _, v := range strings.Split(parts[2], ",") {
					list = append(list, v)
				}
				f.Value = list
			} else {
				f.Value = parts[2]
			}
		}
		filters = append(filters, f)
	}
	return filters
}
