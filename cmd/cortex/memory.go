package main

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/fentz26/cortex/internal/memory"
	"github.com/spf13/cobra"
)

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Manage semantic memory",
}

var memoryAddCmd = &cobra.Command{
	Use:   "add [content]",
	Short: "Store a memory",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runMemoryAdd,
}

var memorySearchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Find memories similar to the query",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runMemorySearch,
}

var (
	memoryMeta  map[string]string
	memoryLimit int
)

func init() {
	memoryCmd.AddCommand(memoryAddCmd, memorySearchCmd)

	memoryAddCmd.Flags().StringToStringVar(&memoryMeta, "meta", nil, "Metadata as key=value pairs")
	memorySearchCmd.Flags().StringToStringVar(&memoryMeta, "meta", nil, "Only match memories with this metadata")
	memorySearchCmd.Flags().IntVar(&memoryLimit, "limit", 5, "Maximum number of results")
}

func runMemoryAdd(cmd *cobra.Command, args []string) error {
	body := map[string]any{
		"content": strings.Join(args, " "),
		"meta":    memoryMeta,
	}
	var resp struct {
		ID string `json:"id"`
	}
	if err := apiPost("/memory", body, &resp); err != nil {
		return err
	}
	fmt.Printf("Stored memory: %s\n", resp.ID)
	return nil
}

func runMemorySearch(cmd *cobra.Command, args []string) error {
	q := url.Values{}
	q.Set("q", strings.Join(args, " "))
	q.Set("limit", fmt.Sprint(memoryLimit))
	for k, val := range memoryMeta {
		q.Set("meta["+k+"]", val)
	}

	var matches []memory.Match
	if err := apiGet("/memory/search?"+q.Encode(), &matches); err != nil {
		return err
	}
	if len(matches) == 0 {
		fmt.Println("No matching memories")
		return nil
	}
	for _, m := range matches {
		fmt.Printf("%s %s %s\n", mutedStyle.Render(truncateID(m.ID)),
			stepStyle.Render(fmt.Sprintf("%.3f", m.Similarity)), truncate(m.Content, 80))
	}
	return nil
}
