// Package main provides the dtm0log CLI entry point.
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/allisterb/dtm0log/pkg/config"
	"github.com/allisterb/dtm0log/pkg/dtm0log"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	var cfgFile string
	cfg := config.LoadFromEnv()

	rootCmd := &cobra.Command{
		Use:   "dtm0log",
		Short: "dtm0log - inspector and operator tool for a DTM0 transaction log",
		Long: `dtm0log operates a PERSISTENT distributed-transaction log backed by
BadgerDB: create it, upsert transaction records into it, look records up,
prune fully-durable prefixes, iterate it in insertion order, and tear it
down.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cfgFile != "" {
				if err := config.LoadFile(cfg, cfgFile); err != nil {
					return fmt.Errorf("loading config file: %w", err)
				}
			}
			return cfg.Validate()
		},
	}
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "optional YAML config file overlaying environment variables")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dtm0log v%s (%s)\n", version, commit)
		},
	})

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a brand-new persistent log in the configured data directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			seg, err := openSegment(cfg)
			if err != nil {
				return err
			}
			defer seg.Close()

			clock := dtm0log.NewPhysicalClock(cfg.NodeID)
			_, err = dtm0log.CreatePersistent(clock, seg, cfg.NodeID)
			return err
		},
	}
	rootCmd.AddCommand(createCmd)

	updateCmd := &cobra.Command{
		Use:   "update <tid-phys> <participant=state>...",
		Short: "Upsert a transaction descriptor, optionally attaching a payload",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, _ := cmd.Flags().GetString("payload")
			return withLog(cfg, func(l *dtm0log.Log, clock dtm0log.Clock) error {
				desc, err := parseDescriptor(clock, cfg.NodeID, args[0], args[1:])
				if err != nil {
					return err
				}
				return l.Update(desc, []byte(payload))
			})
		},
	}
	updateCmd.Flags().String("payload", "", "opaque replay payload to attach")
	rootCmd.AddCommand(updateCmd)

	findCmd := &cobra.Command{
		Use:   "find <tid-phys>",
		Short: "Look up a record by transaction id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLog(cfg, func(l *dtm0log.Log, clock dtm0log.Clock) error {
				id, err := parseTID(cfg.NodeID, args[0])
				if err != nil {
					return err
				}
				rec, err := l.Find(id)
				if err != nil {
					return err
				}
				if rec == nil {
					fmt.Println("not found")
					return nil
				}
				return printRecord(rec)
			})
		},
	}
	rootCmd.AddCommand(findCmd)

	pruneCmd := &cobra.Command{
		Use:   "prune <tid-phys>",
		Short: "Prune the record and every preceding record, if the prefix is fully persistent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLog(cfg, func(l *dtm0log.Log, clock dtm0log.Clock) error {
				id, err := parseTID(cfg.NodeID, args[0])
				if err != nil {
					return err
				}
				return l.Prune(id)
			})
		},
	}
	rootCmd.AddCommand(pruneCmd)

	iterateCmd := &cobra.Command{
		Use:   "iterate",
		Short: "Iterate the log in insertion order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLog(cfg, func(l *dtm0log.Log, clock dtm0log.Clock) error {
				it := dtm0log.NewIterator(l)
				for {
					rec, ok, err := it.Next()
					if err != nil {
						return err
					}
					if !ok {
						return nil
					}
					if err := printRecord(rec); err != nil {
						return err
					}
				}
			})
		},
	}
	rootCmd.AddCommand(iterateCmd)

	destroyCmd := &cobra.Command{
		Use:   "destroy",
		Short: "Tear down the persistent log, freeing every contained record",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLog(cfg, func(l *dtm0log.Log, clock dtm0log.Clock) error {
				return l.Destroy()
			})
		},
	}
	rootCmd.AddCommand(destroyCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

func openSegment(cfg *config.Config) (*dtm0log.BadgerSegment, error) {
	return dtm0log.OpenBadgerSegment(cfg.Segment.DataDir, cfg.Segment.InMemory, cfg.Segment.SyncWrites,
		cfg.Segment.ValueLogFileSizeMB, cfg.Segment.MemTableSizeMB)
}

// withLog opens the segment at cfg's data directory, recovers the log from
// it, runs fn, and closes both regardless of fn's outcome.
func withLog(cfg *config.Config, fn func(l *dtm0log.Log, clock dtm0log.Clock) error) error {
	seg, err := openSegment(cfg)
	if err != nil {
		return err
	}
	defer seg.Close()

	clock := dtm0log.NewPhysicalClock(cfg.NodeID)
	l, err := dtm0log.OpenPersistent(clock, seg)
	if err != nil {
		return err
	}
	defer l.Close()

	return fn(l, clock)
}

// parseTID builds a TID from a physical timestamp and this node's id, with
// a zero Counter. It only matches records whose ids this CLI itself
// created through update, which builds its TIDs the same way.
func parseTID(nodeID, physArg string) (dtm0log.TID, error) {
	phys, err := strconv.ParseUint(physArg, 10, 64)
	if err != nil {
		return dtm0log.TID{}, fmt.Errorf("parsing tid phys component %q: %w", physArg, err)
	}
	return dtm0log.TID{Phys: phys, NodeID: nodeID}, nil
}

// parseDescriptor parses "pid=STATE" pairs into a Descriptor identified by
// physArg's TID; update resolves whether that TID already exists.
func parseDescriptor(clock dtm0log.Clock, nodeID, physArg string, pairs []string) (dtm0log.Descriptor, error) {
	id, err := parseTID(nodeID, physArg)
	if err != nil {
		return dtm0log.Descriptor{}, err
	}

	participants := make([]dtm0log.Participant, 0, len(pairs))
	for _, pair := range pairs {
		pid, stateStr, ok := strings.Cut(pair, "=")
		if !ok {
			return dtm0log.Descriptor{}, fmt.Errorf("malformed participant %q, want pid=STATE", pair)
		}
		state, err := parseState(stateStr)
		if err != nil {
			return dtm0log.Descriptor{}, err
		}
		participants = append(participants, dtm0log.Participant{PID: pid, State: state})
	}

	return dtm0log.Descriptor{ID: id, Participants: participants}, nil
}

func parseState(s string) (dtm0log.ParticipantState, error) {
	switch strings.ToUpper(s) {
	case "IN_PROGRESS":
		return dtm0log.InProgress, nil
	case "EXECUTED":
		return dtm0log.Executed, nil
	case "PERSISTENT":
		return dtm0log.Persistent, nil
	default:
		return 0, fmt.Errorf("unknown participant state %q, want IN_PROGRESS|EXECUTED|PERSISTENT", s)
	}
}

func printRecord(rec *dtm0log.Record) error {
	type participantView struct {
		PID   string `json:"pid"`
		State string `json:"state"`
	}
	view := struct {
		Phys         uint64            `json:"phys"`
		NodeID       string            `json:"node_id"`
		Participants []participantView `json:"participants"`
		Payload      string            `json:"payload,omitempty"`
	}{
		Phys:   rec.Descriptor.ID.Phys,
		NodeID: rec.Descriptor.ID.NodeID,
	}
	for _, p := range rec.Descriptor.Participants {
		view.Participants = append(view.Participants, participantView{PID: p.PID, State: p.State.String()})
	}
	if len(rec.Payload) > 0 {
		view.Payload = string(rec.Payload)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(view)
}
