package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"

	"github.com/alanyoungcy/predictattest/internal/app"
	"github.com/alanyoungcy/predictattest/internal/attest"
	"github.com/alanyoungcy/predictattest/internal/config"
	"github.com/alanyoungcy/predictattest/internal/domain"
)

var errUsage = errors.New("invalid usage")

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "attestctl",
		Short:         "Encode predictions and build EAS attestation calldata",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "optional config file with [[attest.chains]] overrides")

	root.AddCommand(newEncodeCmd())
	root.AddCommand(newDecodeCmd())
	root.AddCommand(newBuildCmd())
	root.AddCommand(newDecideCmd())
	root.AddCommand(newChainsCmd())
	return root
}

func newEncodeCmd() *cobra.Command {
	var p float64
	cmd := &cobra.Command{
		Use:   "encode",
		Short: "Encode a probability as a Q96 square-root price",
		RunE: func(cmd *cobra.Command, _ []string) error {
			enc, err := attest.EncodePrice(p)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"probability":   p,
				"encoded_price": enc.String(),
			})
		},
	}
	cmd.Flags().Float64VarP(&p, "probability", "p", 0, "probability in percent [0,100]")
	_ = cmd.MarkFlagRequired("probability")
	return cmd
}

func newDecodeCmd() *cobra.Command {
	var v string
	cmd := &cobra.Command{
		Use:   "decode",
		Short: "Decode an encoded price back to a probability",
		RunE: func(cmd *cobra.Command, _ []string) error {
			enc, err := parseBig("value", v)
			if err != nil {
				return err
			}
			p, err := attest.DecodePrice(enc)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"encoded_price": enc.String(),
				"probability":   p,
			})
		},
	}
	cmd.Flags().StringVarP(&v, "value", "v", "", "encoded price, decimal or 0x-hex")
	return cmd
}

func newBuildCmd() *cobra.Command {
	var (
		market   string
		id       string
		question string
		p        float64
		comment  string
		chainID  uint64
	)
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build attest calldata for a market prediction",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			registry, err := app.ChainRegistry(cfg)
			if err != nil {
				return err
			}

			if !common.IsHexAddress(market) {
				return fmt.Errorf("%w: --market %q is not a hex address", errUsage, market)
			}
			marketID, err := parseBig("id", id)
			if err != nil {
				return err
			}
			ref := domain.MarketReference{
				Address:  common.HexToAddress(market),
				MarketID: marketID,
			}
			if question != "" {
				b, err := hexutil.Decode(question)
				if err != nil || len(b) != common.HashLength {
					return fmt.Errorf("%w: --question must be 32 bytes of 0x-hex", errUsage)
				}
				ref.QuestionID = common.BytesToHash(b)
			}

			chain := chainID
			if chain == 0 {
				chain = cfg.Attest.ChainID
			}
			cd, err := attest.NewBuilder(registry).Build(ref, p, comment, chain)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), cd)
		},
	}
	cmd.Flags().StringVar(&market, "market", "", "market contract address")
	cmd.Flags().StringVar(&id, "id", "", "market id, decimal or 0x-hex")
	cmd.Flags().StringVar(&question, "question", "", "question id (bytes32 hex)")
	cmd.Flags().Float64VarP(&p, "probability", "p", 0, "probability in percent [0,100]")
	cmd.Flags().StringVar(&comment, "comment", "", "reasoning attached to the attestation")
	cmd.Flags().Uint64Var(&chainID, "chain", 0, "chain id (default from config)")
	_ = cmd.MarkFlagRequired("probability")
	return cmd
}

func newDecideCmd() *cobra.Command {
	var (
		prev      string
		p         float64
		threshold float64
	)
	cmd := &cobra.Command{
		Use:   "decide",
		Short: "Check whether a new probability crosses the re-attestation threshold",
		RunE: func(cmd *cobra.Command, _ []string) error {
			enc, err := parseBig("prev", prev)
			if err != nil {
				return err
			}
			ok, err := attest.ShouldReattest(enc, p, threshold)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"previous_encoded": enc.String(),
				"probability":      p,
				"threshold":        threshold,
				"reattest":         ok,
			})
		},
	}
	cmd.Flags().StringVar(&prev, "prev", "", "previously attested encoded price")
	cmd.Flags().Float64VarP(&p, "probability", "p", 0, "new probability in percent [0,100]")
	cmd.Flags().Float64Var(&threshold, "threshold", config.Defaults().Attest.ChangeThresholdPercent, "change threshold in percentage points")
	_ = cmd.MarkFlagRequired("probability")
	return cmd
}

type chainView struct {
	ChainID   uint64 `json:"chain_id"`
	Name      string `json:"name"`
	Contract  string `json:"contract"`
	SchemaUID string `json:"schema_uid"`
}

func newChainsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chains",
		Short: "List chains with a known attestation contract",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			registry, err := app.ChainRegistry(cfg)
			if err != nil {
				return err
			}

			var views []chainView
			for _, e := range registry.Entries() {
				views = append(views, chainView{
					ChainID:   e.ChainID,
					Name:      e.Name,
					Contract:  e.Contract.Hex(),
					SchemaUID: e.SchemaUID.Hex(),
				})
			}
			return printJSON(cmd.OutOrStdout(), views)
		},
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		cfg := config.Defaults()
		return &cfg, nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func parseBig(name, s string) (*big.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("%w: --%s is required", errUsage, name)
	}
	v, ok := new(big.Int).SetString(s, 0)
	if !ok {
		return nil, fmt.Errorf("%w: --%s %q is not an integer", errUsage, name, s)
	}
	return v, nil
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
