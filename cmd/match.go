package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/jobmatch/internal/jobs"
	"github.com/spigell/jobmatch/internal/logger"
	"github.com/spigell/jobmatch/internal/utils"
)

const (
	PromptBack = "back"
	PromptDump = "Dump results as JSON"

	maxLabelRunes = 60
)

var matchCmd = &cobra.Command{
	Use:   "match",
	Short: "Match a document (resume or free text) against the stored job postings",
	Run: func(cmd *cobra.Command, _ []string) {
		match(cmd)
	},
}

func init() {
	rootCmd.AddCommand(matchCmd)
	addMatchFlags(matchCmd.Flags())
}

func addMatchFlags(f *pflag.FlagSet) {
	f.StringP("file", "f", "", "read the document from a file ('-' for stdin)")
	f.StringP("text", "t", "", "the document text")
	f.String("location", "", "location substring filter")
	f.String("employment-type", "", "FULL_TIME, PART_TIME, CONTRACTOR or INTERNSHIP")
	f.Float64("min-salary", 0, "minimum salary")
	f.Bool("internship-only", false, "only internships")
	f.Bool("remote-only", false, "only remote postings")
	f.String("job-level", "", "ENTRY_LEVEL, MID_LEVEL, SENIOR_LEVEL or EXECUTIVE")
	f.IntP("limit", "n", 0, "maximum number of results (default match.max-results)")
	f.BoolP("interactive", "i", false, "browse the results interactively")
}

func match(cmd *cobra.Command) {
	ctx := context.Background()

	logger, err := logger.NewStderr(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	query, err := queryFromFlags(cmd.Flags(), os.Stdin)
	if err != nil {
		logger.Fatal("building the query", zap.Error(err))
	}

	d, err := newDeps(ctx, config, logger)
	if err != nil {
		logger.Fatal("initializing dependencies", zap.Error(err))
	}
	defer d.Close()

	res, err := newEngine(d).Match(ctx, query)
	if err != nil {
		d.Close()
		logger.Fatal("matching", zap.Error(err))
	}

	logger.Info("match finished",
		zap.String("strategy", string(res.Strategy)),
		zap.Bool("from_cache", res.ServedFromCache),
		zap.Int("count", res.Len()),
	)

	if interactive, _ := cmd.Flags().GetBool("interactive"); interactive && res.Len() > 0 {
		if err := browse(res, logger); err != nil && !errors.Is(err, promptui.ErrInterrupt) {
			d.Close()
			logger.Fatal("browsing results", zap.Error(err))
		}
		return
	}

	pretty, _ := json.MarshalIndent(res, "", "  ")
	fmt.Println(string(pretty))
}

// queryFromFlags reads the document and the filters. Only flags set on the
// command line become filters.
func queryFromFlags(flags *pflag.FlagSet, stdin io.Reader) (jobs.MatchQuery, error) {
	var q jobs.MatchQuery

	text, _ := flags.GetString("text")
	file, _ := flags.GetString("file")
	switch {
	case text != "" && file != "":
		return q, errors.New("use either --text or --file")
	case file == "-":
		data, err := io.ReadAll(stdin)
		if err != nil {
			return q, fmt.Errorf("reading stdin: %w", err)
		}
		text = string(data)
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return q, fmt.Errorf("reading document: %w", err)
		}
		text = string(data)
	}
	if strings.TrimSpace(text) == "" {
		return q, errors.New("a document is required (--text or --file)")
	}
	q.Text = text
	q.Limit, _ = flags.GetInt("limit")

	if flags.Changed("location") {
		v, _ := flags.GetString("location")
		q.Filters.Location = &v
	}
	if flags.Changed("employment-type") {
		v, _ := flags.GetString("employment-type")
		t := jobs.EmploymentType(strings.ToUpper(v))
		q.Filters.EmploymentType = &t
	}
	if flags.Changed("min-salary") {
		v, _ := flags.GetFloat64("min-salary")
		q.Filters.MinSalary = &v
	}
	if flags.Changed("internship-only") {
		v, _ := flags.GetBool("internship-only")
		q.Filters.InternshipOnly = &v
	}
	if flags.Changed("remote-only") {
		v, _ := flags.GetBool("remote-only")
		q.Filters.RemoteOnly = &v
	}
	if flags.Changed("job-level") {
		v, _ := flags.GetString("job-level")
		l := jobs.JobLevel(strings.ToUpper(v))
		q.Filters.JobLevel = &l
	}
	return q, nil
}

func browse(res jobs.MatchResult, logger *zap.Logger) error {
	for {
		items := make([]string, 0, res.Len()+2)
		for i, item := range res.Items {
			items = append(items, resultLabel(i, item))
		}

		selectPrompt := promptui.Select{
			Label: fmt.Sprintf("%d matches (%s). Choose a posting and press ENTER", res.Len(), res.Strategy),
			Items: append(items, PromptDump, PromptBack),
			Size:  15,
		}

		idx, selected, err := selectPrompt.Run()
		if err != nil {
			return err
		}

		switch selected {
		case PromptBack:
			return nil
		case PromptDump:
			pretty, _ := json.MarshalIndent(res, "", "  ")
			fmt.Println(string(pretty))
		default:
			job := res.Items[idx].Job
			logger.Info("posting",
				zap.String("source_id", job.SourceID),
				zap.String("title", job.Title),
				zap.String("company", job.Company),
				zap.String("location", job.Location),
				zap.String("url", job.RedirectURL),
				zap.String("description", utils.TruncateForLog(job.Description, 400)),
			)
		}
	}
}

func resultLabel(i int, item jobs.ScoredJob) string {
	title := []rune(item.Job.Title)
	if len(title) > maxLabelRunes {
		title = append(title[:maxLabelRunes-1], '…')
	}
	return fmt.Sprintf("%2d. %.2f %s / %s / %s", i+1, item.Score, string(title), item.Job.Company, item.Job.Location)
}
