package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yungbote/persona-council/internal/personality"
)

func newKeyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Encode or decode personality keys",
	}

	var traits, gender string
	encode := &cobra.Command{
		Use:     "encode",
		Short:   "Build the key for a profile",
		Example: "  council key encode --traits 4,2,5,3,2 --gender female",
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := parseProfile(traits, gender)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), p.Key())
			return nil
		},
	}
	encode.Flags().StringVar(&traits, "traits", "", "comma separated O,C,E,A,N scores in [1,5]")
	encode.Flags().StringVar(&gender, "gender", "", "female, male or other")
	_ = encode.MarkFlagRequired("traits")
	_ = encode.MarkFlagRequired("gender")

	decode := &cobra.Command{
		Use:     "decode <key>",
		Short:   "Print the traits and gender stored in a key",
		Example: "  council key decode O4_C2_E5_A3_N2_female",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, g, err := personality.Decode(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "openness=%d conscientiousness=%d extraversion=%d agreeableness=%d neuroticism=%d gender=%s\n",
				v.O, v.C, v.E, v.A, v.N, g)
			return nil
		},
	}

	cmd.AddCommand(encode, decode)
	return cmd
}
