package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/ardanlabs/ffi-bindgen/config"
	"github.com/ardanlabs/ffi-bindgen/envconfig"
)

func ConfigHandler(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	env, _ := cmd.Flags().GetBool("env")
	if !env {
		fmt.Fprint(out, config.Example())
		return nil
	}

	vars := envconfig.AsMap()
	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	sort.Strings(names)

	var data [][]string
	for _, name := range names {
		v := vars[name]
		data = append(data, []string{v.Name, fmt.Sprintf("%v", v.Value), v.Description})
	}

	table := newTable(out)
	table.SetHeader([]string{"VARIABLE", "VALUE", "DESCRIPTION"})
	table.AppendBulk(data)
	table.Render()

	return nil
}
