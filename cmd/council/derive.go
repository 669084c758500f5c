package main

import (
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/yungbote/persona-council/internal/personality"
)

func newDeriveCommand() *cobra.Command {
	var traits, gender string
	cmd := &cobra.Command{
		Use:     "derive",
		Short:   "Print the six council personas for a profile",
		Example: "  council derive --traits 4,2,5,3,2 --gender female",
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := parseProfile(traits, gender)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "profile %s\n", p.Key())
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ROLE\tNAME\tSIDE\tO\tC\tE\tA\tN\tKEY")
			for _, v := range personality.Derive(p) {
				t := v.Traits
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\t%s\n",
					v.ID, v.DisplayName, v.Side, t.O, t.C, t.E, t.A, t.N, v.Key)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&traits, "traits", "", "comma separated O,C,E,A,N scores in [1,5]")
	cmd.Flags().StringVar(&gender, "gender", "", "female, male or other")
	_ = cmd.MarkFlagRequired("traits")
	_ = cmd.MarkFlagRequired("gender")
	return cmd
}

func parseProfile(traits, gender string) (personality.Profile, error) {
	parts := strings.Split(traits, ",")
	if len(parts) != 5 {
		return personality.Profile{}, fmt.Errorf("--traits needs five comma separated values, got %q", traits)
	}
	var vals [5]int
	for i, s := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return personality.Profile{}, fmt.Errorf("--traits value %q: %w", s, err)
		}
		vals[i] = n
	}
	v, err := personality.FromArray(vals)
	if err != nil {
		return personality.Profile{}, err
	}
	g, err := personality.ParseGender(gender)
	if err != nil {
		return personality.Profile{}, err
	}
	return personality.Profile{Traits: v, Gender: g}, nil
}
