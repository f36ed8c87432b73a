package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/foxzi/outreach/internal/db"
	"github.com/foxzi/outreach/internal/models"
	"github.com/foxzi/outreach/internal/template"
)

var (
	templateSubject  string
	templateBody     string
	templateBodyFile string
	templateVars     []string
	templateDataJSON string
)

var templateCmd = &cobra.Command{
	Use:   "template",
	Short: "Template commands",
}

var templateRenderCmd = &cobra.Command{
	Use:   "render",
	Short: "Render a subject and body with test data",
	Long: `Render substitutes {{name}} placeholders without touching storage.
Placeholders with no value are left as they are and listed on stderr.`,
	RunE: runTemplateRender,
}

var templateListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored templates",
	RunE:  runTemplateList,
}

var templateSeedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Install the starter templates",
	RunE:  runTemplateSeed,
}

func init() {
	templateRenderCmd.Flags().StringVar(&templateSubject, "subject", "", "Subject text")
	templateRenderCmd.Flags().StringVar(&templateBody, "body", "", "Body text")
	templateRenderCmd.Flags().StringVar(&templateBodyFile, "body-file", "", "Read body from file")
	templateRenderCmd.Flags().StringArrayVar(&templateVars, "var", nil, "Placeholder value as name=value (repeatable)")
	templateRenderCmd.Flags().StringVar(&templateDataJSON, "data", "", "Placeholder values as a JSON object")

	templateCmd.AddCommand(templateRenderCmd, templateListCmd, templateSeedCmd)
	rootCmd.AddCommand(templateCmd)
}

// parseVars merges --data and --var values; --var wins
func parseVars(dataJSON string, vars []string) (map[string]string, error) {
	fields := make(map[string]string)
	if dataJSON != "" {
		if err := json.Unmarshal([]byte(dataJSON), &fields); err != nil {
			return nil, fmt.Errorf("invalid --data: %w", err)
		}
	}
	for _, v := range vars {
		name, value, ok := strings.Cut(v, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid --var %q, expected name=value", v)
		}
		fields[name] = value
	}
	return fields, nil
}

func runTemplateRender(cmd *cobra.Command, args []string) error {
	body := templateBody
	if templateBodyFile != "" {
		data, err := os.ReadFile(templateBodyFile)
		if err != nil {
			return fmt.Errorf("failed to read body file: %w", err)
		}
		body = string(data)
	}
	if templateSubject == "" && body == "" {
		return fmt.Errorf("--subject or --body is required")
	}

	fields, err := parseVars(templateDataJSON, templateVars)
	if err != nil {
		return err
	}

	tmpl := &models.EmailTemplate{Subject: templateSubject, Body: body}
	out := template.NewRenderer().Render(tmpl, fields)

	fmt.Fprintf(cmd.OutOrStdout(), "Subject: %s\n\n%s\n", out.Subject, out.Body)
	if missing := template.Unresolved(tmpl, fields); len(missing) > 0 {
		fmt.Fprintf(cmd.ErrOrStderr(), "unresolved placeholders: %s\n", strings.Join(missing, ", "))
	}
	return nil
}

// openTemplates opens the configured database. The server must not be
// running since the file is locked while open.
func openTemplates() (*template.Storage, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	database, err := db.Open(cfg.Storage.Path)
	if err != nil {
		return nil, nil, err
	}
	storage, err := template.NewStorage(database.DB)
	if err != nil {
		database.Close()
		return nil, nil, err
	}
	return storage, func() { database.Close() }, nil
}

func runTemplateList(cmd *cobra.Command, args []string) error {
	storage, closeDB, err := openTemplates()
	if err != nil {
		return err
	}
	defer closeDB()

	templates, _, err := storage.List(context.Background(), models.TemplateFilter{})
	if err != nil {
		return fmt.Errorf("failed to list templates: %w", err)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tDEFAULT\tSUBJECT")
	for _, t := range templates {
		def := ""
		if t.IsDefault {
			def = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.ID, t.Name, def, t.Subject)
	}
	return w.Flush()
}

func runTemplateSeed(cmd *cobra.Command, args []string) error {
	storage, closeDB, err := openTemplates()
	if err != nil {
		return err
	}
	defer closeDB()

	created, err := template.SeedDefaults(context.Background(), storage)
	if err != nil {
		return fmt.Errorf("failed to seed templates: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created %d template(s)\n", created)
	return nil
}
