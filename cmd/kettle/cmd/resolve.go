package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sirosfoundation/kettle/pkg/resolver"
)

var resolveArgs []string

var resolveCmd = &cobra.Command{
	Use:   "resolve <expr>...",
	Short: "Resolve configuration expressions",
	Long: `Resolve env:NAME, file:PATH, args and args:N expressions the way
configuration templates see them. PATH may start with %kettle, the directory
holding the kettle binary.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runResolve,
}

func init() {
	resolveCmd.Flags().StringSliceVar(&resolveArgs, "arg", nil, "Value exposed through args (repeatable)")
	rootCmd.AddCommand(resolveCmd)
}

type resolved struct {
	Expression string   `json:"expression"`
	Defined    bool     `json:"defined"`
	Value      string   `json:"value,omitempty"`
	List       []string `json:"list,omitempty"`
}

func runResolve(_ *cobra.Command, args []string) error {
	r := resolver.New(resolver.WithArgs(resolveArgs))

	results := make([]resolved, 0, len(args))
	for _, arg := range args {
		expr, err := resolver.ParseExpression(arg)
		if err != nil {
			return err
		}
		v, err := r.Resolve(expr)
		if err != nil {
			return err
		}
		results = append(results, resolved{Expression: expr.String(), Defined: v.Defined, Value: v.String, List: v.List})
	}

	if output == "json" {
		data, err := json.MarshalIndent(results, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	rows := make([][]string, 0, len(results))
	for _, res := range results {
		value := res.Value
		if res.List != nil {
			value = strings.Join(res.List, " ")
		}
		if !res.Defined {
			value = "<undefined>"
		}
		rows = append(rows, []string{res.Expression, strings.TrimRight(value, "\n")})
	}
	printTable([]string{"EXPRESSION", "VALUE"}, rows)
	return nil
}
