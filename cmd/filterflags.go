package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dhcgn/mbox-index/filter"
)

type filterFlags struct {
	includeHeader []string
	includeBody   []string
	excludeHeader []string
	excludeBody   []string
}

func addFilterFlags(cmd *cobra.Command) *filterFlags {
	ff := &filterFlags{}
	cmd.Flags().StringArrayVar(&ff.includeHeader, "include-header", nil, "Regex allow-list applied to message headers (mutually exclusive with exclude flags)")
	cmd.Flags().StringArrayVar(&ff.includeBody, "include-body", nil, "Regex allow-list applied to message bodies (mutually exclusive with exclude flags)")
	cmd.Flags().StringArrayVar(&ff.excludeHeader, "exclude-header", nil, "Regex block-list applied to message headers (mutually exclusive with include flags)")
	cmd.Flags().StringArrayVar(&ff.excludeBody, "exclude-body", nil, "Regex block-list applied to message bodies (mutually exclusive with include flags)")
	return ff
}

func (ff *filterFlags) build() (*filter.Filter, error) {
	f, err := filter.New(filter.Options{
		IncludeHeader: ff.includeHeader,
		IncludeBody:   ff.includeBody,
		ExcludeHeader: ff.excludeHeader,
		ExcludeBody:   ff.excludeBody,
	})
	if err != nil {
		return nil, fmt.Errorf("create filter: %w", err)
	}
	return f, nil
}
