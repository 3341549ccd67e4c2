package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/starshop/starchat/internal/describe"
)

var (
	describeCatalogID   string
	describeCatalogName string
	describeKeywords    string
	describeRestore     bool
	describeClearDraft  bool
)

var describeCmd = &cobra.Command{
	Use:   "describe [product name...]",
	Short: "Generate a product description (admin)",
	Long: `Ask the storefront AI to write a product description.

Requires an admin session. Keywords default to words taken from the catalog
and product names. Every generated description is backed up as a draft that
--restore prints again.

Examples:
  starchat describe "Áo thun cotton basic" --catalog-id 3 --catalog-name "Thời trang nam"
  starchat describe "Tai nghe bluetooth" --keywords "chống ồn, pin 30 giờ"
  starchat describe --restore
  starchat describe --clear-draft`,
	RunE: runDescribe,
}

func init() {
	describeCmd.Flags().StringVar(&describeCatalogID, "catalog-id", "", "catalog id of the product")
	describeCmd.Flags().StringVar(&describeCatalogName, "catalog-name", "", "catalog name, used for keyword suggestions")
	describeCmd.Flags().StringVarP(&describeKeywords, "keywords", "k", "", "keywords for the description")
	describeCmd.Flags().BoolVar(&describeRestore, "restore", false, "print the last saved draft")
	describeCmd.Flags().BoolVar(&describeClearDraft, "clear-draft", false, "delete the saved draft")
}

func runDescribe(cmd *cobra.Command, args []string) error {
	drafts := describe.NewDrafts(cfg.DraftFile)

	switch {
	case describeClearDraft:
		if err := drafts.Clear(); err != nil {
			return err
		}
		fmt.Println("Draft cleared.")
		return nil
	case describeRestore:
		draft, ok, err := drafts.Load()
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("No saved draft.")
			return nil
		}
		fmt.Printf("Draft for %q (saved %s)\n\n%s\n", draft.Product, draft.SavedAt.Local().Format("02/01/2006 15:04"), draft.Content)
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc := describe.New(api, drafts, logger, collector)
	req := describe.Request{
		ProductName: strings.Join(args, " "),
		CatalogID:   describeCatalogID,
		CatalogName: describeCatalogName,
		Keywords:    describeKeywords,
	}
	if req.Keywords == "" {
		if kw := describe.ExtractKeywords(req.ProductName, req.CatalogName); kw != "" {
			fmt.Printf("Keywords: %s\n", kw)
		}
	}

	fmt.Println("Generating description...")
	text, err := svc.Generate(ctx, req)
	if err != nil {
		if errors.Is(err, describe.ErrSuperseded) || ctx.Err() != nil {
			return nil
		}
		logger.Debug("describe failed", "error", err)
		return errors.New(describe.FriendlyError(err))
	}

	fmt.Println()
	fmt.Println(text)
	fmt.Fprintf(os.Stderr, "\nDraft saved to %s\n", drafts.Path())
	return nil
}
