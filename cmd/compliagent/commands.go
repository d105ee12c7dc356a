package main

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/hyperjump/compliagent/internal/cli"
	"github.com/hyperjump/compliagent/internal/models"
	"github.com/hyperjump/compliagent/internal/objectstore"
)

func newIngestCmd(g *globalFlags) *cobra.Command {
	var (
		prefix string
		policy bool
		notify string
	)
	cmd := &cobra.Command{
		Use:   "ingest <file>...",
		Short: "Copy documents into the raw bucket",
		Long: `Copy local files into the raw bucket, where the pipeline picks them up.

Files go under --prefix; --policy stores them under the first configured policy
prefix so they are classified as internal policies. When the server does not watch
the raw bucket, an object-created event is posted for each file.

Examples:
  compliagent ingest notice-626.pdf --prefix mas/
  compliagent ingest aml-policy.pdf --policy`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.clientConfig()
			if err != nil {
				return err
			}
			objects, err := objectstore.New(map[string]string{objectstore.BucketRaw: cfg.Buckets.RawDir})
			if err != nil {
				return err
			}
			if policy && prefix == "" && len(cfg.Ingest.PolicyPrefixes) > 0 {
				prefix = cfg.Ingest.PolicyPrefixes[0]
			}
			post := !cfg.Ingest.WatchOrDefault()
			switch notify {
			case "always":
				post = true
			case "never":
				post = false
			}
			ctx := cmd.Context()
			var client *cli.Client
			if post {
				if client, err = g.client(); err != nil {
					return err
				}
			}
			out := cmd.OutOrStdout()
			for _, file := range args {
				data, err := os.ReadFile(file)
				if err != nil {
					return fmt.Errorf("failed to read %s: %w", file, err)
				}
				key := objectKey(prefix, file)
				if err := objects.Put(ctx, objectstore.BucketRaw, key, data); err != nil {
					return err
				}
				if client != nil {
					if err := client.NotifyObjectCreated(ctx, models.ObjectCreated{Bucket: objectstore.BucketRaw, ObjectKey: key}); err != nil {
						return err
					}
				}
				fmt.Fprintf(out, "%s -> %s/%s\n", file, objectstore.BucketRaw, key)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&prefix, "prefix", "", "object key prefix inside the raw bucket")
	cmd.Flags().BoolVar(&policy, "policy", false, "store as an internal policy document")
	cmd.Flags().StringVar(&notify, "notify", "auto", "post object-created events: auto, always or never")
	return cmd
}

// objectKey places the file's base name under prefix using forward slashes.
func objectKey(prefix, file string) string {
	prefix = strings.Trim(filepath.ToSlash(prefix), "/")
	name := filepath.Base(file)
	if prefix == "" {
		return name
	}
	return path.Join(prefix, name)
}

func newSearchCmd(g *globalFlags) *cobra.Command {
	var q models.SearchQuery
	var searchType, docType string
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search indexed regulations and policies",
		Long: `Search indexed document chunks.

Examples:
  compliagent search "customer due diligence"
  compliagent search "suspicious transaction reporting" --type text --regulation MAS-NOTICE-626
  compliagent search "record retention" --document-type policy -n 5`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := g.format()
			if err != nil {
				return err
			}
			client, err := g.client()
			if err != nil {
				return err
			}
			q.Text = strings.Join(args, " ")
			q.Type = models.SearchType(searchType)
			q.DocumentType = models.DocumentType(docType)
			resp, err := client.Search(cmd.Context(), &q)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			return cli.WriteSearchResults(cmd.OutOrStdout(), resp, format)
		},
	}
	cmd.Flags().StringVarP(&searchType, "type", "t", "", "search type: vector, text or hybrid (default hybrid)")
	cmd.Flags().IntVarP(&q.Size, "limit", "n", 0, "max results (default from server config)")
	cmd.Flags().StringVar(&q.RegulationID, "regulation", "", "restrict to a regulation id")
	cmd.Flags().StringVar(&docType, "document-type", "", "restrict to regulation or policy")
	cmd.Flags().Float64Var(&q.MinScore, "min-score", 0, "minimum vector similarity")
	return cmd
}

// waitFlags control polling a started execution.
type waitFlags struct {
	wait    bool
	timeout time.Duration
}

func (w *waitFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVarP(&w.wait, "wait", "w", false, "wait for the execution to finish")
	cmd.Flags().DurationVar(&w.timeout, "wait-timeout", 35*time.Minute, "how long to wait with --wait")
}

func (w *waitFlags) finish(cmd *cobra.Command, client *cli.Client, format cli.OutputFormat, started *models.ExecutionStarted) error {
	out := cmd.OutOrStdout()
	if !w.wait {
		if format == cli.OutputJSON {
			return cli.WriteJSON(out, started)
		}
		fmt.Fprintf(out, "Started execution %s\n", started.ExecutionID)
		return nil
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), w.timeout)
	defer cancel()
	exec, err := client.WaitExecution(ctx, started.ExecutionID, time.Second)
	if err != nil {
		return fmt.Errorf("waiting for %s: %w", started.ExecutionID, err)
	}
	if err := cli.WriteExecution(out, exec, format); err != nil {
		return err
	}
	if exec.Status == models.ExecutionFailed {
		return fmt.Errorf("execution %s failed", exec.ID)
	}
	return nil
}

func newAnalyzeCmd(g *globalFlags) *cobra.Command {
	var in models.GapAnalysisInput
	var searchType string
	var w waitFlags
	cmd := &cobra.Command{
		Use:   "analyze <query>",
		Short: "Start a gap-analysis execution",
		Long: `Retrieve the regulation and policy chunks matching the query and ask the
reasoning service for compliance gaps. New gaps are stored with status identified.

Examples:
  compliagent analyze "customer due diligence" --wait
  compliagent analyze "outsourcing" --regulation MAS-NOTICE-655 --context "retail bank"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := g.format()
			if err != nil {
				return err
			}
			client, err := g.client()
			if err != nil {
				return err
			}
			in.QueryText = strings.Join(args, " ")
			in.SearchType = models.SearchType(searchType)
			started, err := client.StartGapAnalysis(cmd.Context(), in)
			if err != nil {
				return fmt.Errorf("start gap analysis: %w", err)
			}
			return w.finish(cmd, client, format, started)
		},
	}
	cmd.Flags().StringVarP(&searchType, "type", "t", "", "search type: vector, text or hybrid (default hybrid)")
	cmd.Flags().IntVarP(&in.Size, "limit", "n", 0, "chunks to retrieve")
	cmd.Flags().StringVar(&in.RegulationID, "regulation", "", "restrict retrieval to a regulation id")
	cmd.Flags().StringVar(&in.AnalysisContext, "context", "", "extra context for the analysis")
	w.register(cmd)
	return cmd
}

func newDraftCmd(g *globalFlags) *cobra.Command {
	var in models.AmendmentDraftingInput
	var w waitFlags
	cmd := &cobra.Command{
		Use:   "draft <gap-id>...",
		Short: "Start an amendment-drafting execution",
		Long: `Draft policy amendments for the given gaps. Gaps are sent to the drafting
service in batches; every run adds a new draft attempt per gap.

Examples:
  compliagent draft 3f2a9c1e7b5d4a08 --wait
  compliagent draft g1 g2 g3 --org-context "digital bank, retail customers only"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := g.format()
			if err != nil {
				return err
			}
			client, err := g.client()
			if err != nil {
				return err
			}
			in.GapIDs = lo.Uniq(args)
			started, err := client.StartAmendmentDrafting(cmd.Context(), in)
			if err != nil {
				return fmt.Errorf("start amendment drafting: %w", err)
			}
			return w.finish(cmd, client, format, started)
		},
	}
	cmd.Flags().StringVar(&in.OrganizationContext, "org-context", "", "organization context for the drafter")
	w.register(cmd)
	return cmd
}

func newExecutionCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "execution <id>",
		Aliases: []string{"exec"},
		Short:   "Show an execution and its step log",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := g.format()
			if err != nil {
				return err
			}
			client, err := g.client()
			if err != nil {
				return err
			}
			exec, err := client.GetExecution(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return cli.WriteExecution(cmd.OutOrStdout(), exec, format)
		},
	}
}

func newGapsCmd(g *globalFlags) *cobra.Command {
	var f models.GapFilter
	var status, severity string
	cmd := &cobra.Command{
		Use:   "gaps",
		Short: "List and update compliance gaps",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := g.format()
			if err != nil {
				return err
			}
			client, err := g.client()
			if err != nil {
				return err
			}
			f.Status = models.GapStatus(status)
			f.Severity = models.Severity(strings.ToLower(severity))
			gaps, err := client.ListGaps(cmd.Context(), f)
			if err != nil {
				return err
			}
			return cli.WriteGaps(cmd.OutOrStdout(), gaps, format)
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "identified, acknowledged or resolved")
	cmd.Flags().StringVar(&severity, "severity", "", "critical, high, medium or low")
	cmd.Flags().StringVar(&f.RegulationID, "regulation", "", "regulation id")
	cmd.Flags().StringVar(&f.ExecutionID, "execution", "", "execution that found the gap")
	cmd.Flags().IntVarP(&f.Limit, "limit", "n", 50, "max gaps")

	cmd.AddCommand(
		newGapTransitionCmd(g, "acknowledge", "Acknowledge an identified gap", (*cli.Client).AcknowledgeGap),
		newGapTransitionCmd(g, "resolve", "Resolve an acknowledged gap", (*cli.Client).ResolveGap),
	)
	return cmd
}

type gapTransition func(c *cli.Client, ctx context.Context, id, by, notes string) (*models.GapRecord, error)

func newGapTransitionCmd(g *globalFlags, use, short string, transition gapTransition) *cobra.Command {
	var by, notes string
	cmd := &cobra.Command{
		Use:   use + " <gap-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := g.format()
			if err != nil {
				return err
			}
			client, err := g.client()
			if err != nil {
				return err
			}
			gap, err := transition(client, cmd.Context(), args[0], by, notes)
			if err != nil {
				return err
			}
			return cli.WriteGaps(cmd.OutOrStdout(), []*models.GapRecord{gap}, format)
		},
	}
	cmd.Flags().StringVar(&by, "by", currentUser(), "who is making the change")
	cmd.Flags().StringVar(&notes, "notes", "", "notes to record")
	return cmd
}

func newAmendmentsCmd(g *globalFlags) *cobra.Command {
	var f models.AmendmentFilter
	var status string
	cmd := &cobra.Command{
		Use:   "amendments",
		Short: "List and approve drafted amendments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := g.format()
			if err != nil {
				return err
			}
			client, err := g.client()
			if err != nil {
				return err
			}
			f.Status = models.AmendmentStatus(status)
			amendments, err := client.ListAmendments(cmd.Context(), f)
			if err != nil {
				return err
			}
			return cli.WriteAmendments(cmd.OutOrStdout(), amendments, format)
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "draft, approved or implemented")
	cmd.Flags().StringVar(&f.GapID, "gap", "", "gap id")
	cmd.Flags().StringVar(&f.ExecutionID, "execution", "", "execution that drafted the amendment")
	cmd.Flags().IntVarP(&f.Limit, "limit", "n", 50, "max amendments")

	var by, notes string
	approve := &cobra.Command{
		Use:   "approve <amendment-id>",
		Short: "Approve a draft amendment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := g.format()
			if err != nil {
				return err
			}
			client, err := g.client()
			if err != nil {
				return err
			}
			a, err := client.ApproveAmendment(cmd.Context(), args[0], by, notes)
			if err != nil {
				return err
			}
			return cli.WriteAmendments(cmd.OutOrStdout(), []*models.AmendmentRecord{a}, format)
		},
	}
	approve.Flags().StringVar(&by, "by", currentUser(), "approver")
	approve.Flags().StringVar(&notes, "notes", "", "approval notes")
	cmd.AddCommand(approve)
	return cmd
}

func newEventsCmd(g *globalFlags) *cobra.Command {
	var types []string
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Follow real-time pipeline and workflow events",
		Long: `Stream events from the server until interrupted.

Examples:
  compliagent events
  compliagent events --types gap.created,execution.finished`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := g.format()
			if err != nil {
				return err
			}
			client, err := g.client()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			return client.FollowEvents(cmd.Context(), types, func(ev cli.StreamEvent) error {
				return cli.WriteEvent(out, ev, format)
			})
		},
	}
	cmd.Flags().StringSliceVar(&types, "types", nil, "event types to follow (default all)")
	return cmd
}

func newStatusCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show document counts and index sizes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := g.format()
			if err != nil {
				return err
			}
			client, err := g.client()
			if err != nil {
				return err
			}
			status, err := client.Status(cmd.Context())
			if err != nil {
				return fmt.Errorf("status: %w", err)
			}
			return cli.WriteStatus(cmd.OutOrStdout(), status, format)
		},
	}
}

func currentUser() string {
	for _, k := range []string{"USER", "USERNAME"} {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}
