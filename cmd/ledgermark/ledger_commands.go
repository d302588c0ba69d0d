package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"ledgermark/internal/fileutil"
	"ledgermark/internal/services"
	"ledgermark/internal/services/ledger"
)

type recordView struct {
	ID          string  `json:"id"`
	Owner       string  `json:"owner"`
	CID         string  `json:"cid"`
	Fingerprint string  `json:"fingerprint"`
	Strength    string  `json:"strength"`
	Delta       float64 `json:"delta"`
	Timestamp   string  `json:"timestamp"`
}

func toRecordView(record ledger.Record, scale int64) recordView {
	view := recordView{
		Owner:       record.Owner.Hex(),
		CID:         record.IPFSHash,
		Fingerprint: record.SHA256Hash,
	}
	if record.ID != nil {
		view.ID = record.ID.String()
	}
	if record.Delta != nil {
		view.Strength = record.Delta.String()
		view.Delta = ledger.UnscaleDelta(record.Delta, scale)
	}
	if !record.Timestamp.IsZero() {
		view.Timestamp = record.Timestamp.UTC().Format("2006-01-02T15:04:05Z07:00")
	}
	return view
}

func newRecordsCommand(ctx *commandContext) *cobra.Command {
	var (
		owner   string
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "records",
		Short: "List registrations held by an account on the ledger",
		Long:  "List registrations held by --owner, or by the signing session's first account when omitted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd, runtimeOptions{noStore: true}, func(rt *runtime) error {
				registry, err := rt.requireRegistry()
				if err != nil {
					return err
				}
				address, err := resolveOwner(cmd, rt, owner)
				if err != nil {
					return err
				}
				records, err := registry.OwnerRecords(cmd.Context(), address)
				if err != nil {
					return err
				}
				views := make([]recordView, 0, len(records))
				for _, record := range records {
					views = append(views, toRecordView(record, rt.cfg.Ledger.DeltaScale))
				}
				if jsonOut {
					return writeJSON(cmd, map[string]any{"owner": address.Hex(), "records": views})
				}
				out := cmd.OutOrStdout()
				if len(views) == 0 {
					fmt.Fprintf(out, "No registrations for %s\n", address.Hex())
					return nil
				}
				rows := make([][]string, 0, len(views))
				for _, v := range views {
					rows = append(rows, []string{v.ID, truncate(v.CID, 24), truncate(v.Fingerprint, 20), fmt.Sprintf("%.2f", v.Delta), v.Timestamp})
				}
				fmt.Fprintf(out, "Registrations for %s\n", address.Hex())
				fmt.Fprintln(out, renderTable(
					[]string{"ID", "CID", "Fingerprint", "Delta", "Registered"},
					rows,
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "Account address (0x...)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output JSON")
	return cmd
}

func resolveOwner(cmd *cobra.Command, rt *runtime, owner string) (common.Address, error) {
	owner = strings.TrimSpace(owner)
	if owner != "" {
		if !common.IsHexAddress(owner) {
			return common.Address{}, services.Wrap(services.ErrValidation, "", "records", fmt.Sprintf("invalid owner address %q", owner), nil)
		}
		return common.HexToAddress(owner), nil
	}
	accounts, err := rt.ledger.Session.Accounts(cmd.Context())
	if err != nil {
		return common.Address{}, services.Wrap(services.ErrSigningUnavailable, "", "records", "could not list signing accounts; pass --owner", err)
	}
	if len(accounts) == 0 {
		return common.Address{}, services.Wrap(services.ErrSigningUnavailable, "", "records", "the signing session exposes no account; pass --owner", nil)
	}
	return accounts[0], nil
}

type verifyView struct {
	File        string      `json:"file"`
	Fingerprint string      `json:"fingerprint"`
	BER         float64     `json:"ber"`
	Watermarked bool        `json:"watermarked"`
	Registered  bool        `json:"registered"`
	Record      *recordView `json:"record,omitempty"`
}

func newVerifyCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "verify <file>",
		Short: "Measure the watermark in a file and look up its registration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, name, _, err := fileutil.LoadContent(args[0])
			if err != nil {
				return err
			}
			return ctx.withRuntime(cmd, runtimeOptions{noStore: true}, func(rt *runtime) error {
				result, err := rt.transform.Verify(cmd.Context(), data)
				if err != nil {
					return services.Wrap(services.MarkerOf(err, services.ErrService), "", "verify", "watermark verification failed", err)
				}
				fingerprint := result.ImageHash
				if fingerprint == "" {
					fingerprint = fileutil.Fingerprint(data)
				}
				view := verifyView{File: name, Fingerprint: fingerprint, BER: result.BER, Watermarked: result.Watermarked()}
				if rt.ledger != nil {
					record, found, err := rt.ledger.Registry.FindByFingerprint(cmd.Context(), fingerprint)
					if err != nil {
						return err
					}
					if found {
						rv := toRecordView(record, rt.cfg.Ledger.DeltaScale)
						view.Registered, view.Record = true, &rv
					}
				}
				if jsonOut {
					return writeJSON(cmd, view)
				}
				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				kind, verdict := statusOK, fmt.Sprintf("watermark present (BER %.4f)", view.BER)
				if !view.Watermarked {
					kind, verdict = statusWarn, fmt.Sprintf("no watermark detected (BER %.4f)", view.BER)
				}
				fmt.Fprintln(out, renderStatusLine("Watermark", kind, verdict, colorize))
				switch {
				case rt.ledger == nil:
					fmt.Fprintln(out, renderStatusLine("Ledger", statusInfo, "not configured; registration not checked", colorize))
				case view.Record != nil:
					fmt.Fprintln(out, renderStatusLine("Ledger", statusOK,
						fmt.Sprintf("registered by %s as %s", view.Record.Owner, view.Record.CID), colorize))
				default:
					fmt.Fprintln(out, renderStatusLine("Ledger", statusWarn, "fingerprint "+truncate(fingerprint, 16)+" is not registered", colorize))
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output JSON")
	return cmd
}

func newExtractCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "extract <file>",
		Short: "Print the watermark bits recovered from a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, _, _, err := fileutil.LoadContent(args[0])
			if err != nil {
				return err
			}
			return ctx.withRuntime(cmd, runtimeOptions{noStore: true}, func(rt *runtime) error {
				bits, err := rt.transform.Extract(cmd.Context(), data)
				if err != nil {
					return services.Wrap(services.MarkerOf(err, services.ErrService), "", "extract", "watermark extraction failed", err)
				}
				if len(bits) == 0 {
					return errors.New("transform service returned an empty watermark")
				}
				if jsonOut {
					return writeJSON(cmd, map[string]any{"watermark": bits})
				}
				out := cmd.OutOrStdout()
				for _, row := range bits {
					var b strings.Builder
					for _, bit := range row {
						if bit != 0 {
							b.WriteByte('1')
						} else {
							b.WriteByte('0')
						}
					}
					fmt.Fprintln(out, b.String())
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output JSON")
	return cmd
}
