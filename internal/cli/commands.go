package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/vyrodovalexey/basket-sync/internal/catalog"
	"github.com/vyrodovalexey/basket-sync/internal/engine"
	"github.com/vyrodovalexey/basket-sync/internal/model"
)

// NewCatalogCommand creates the catalog command.
func NewCatalogCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "catalog [query]",
		Short: "List or search products",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.config(cmd)
			if err != nil {
				return err
			}
			cat, err := catalog.Load(cfg.CatalogPath)
			if err != nil {
				return err
			}

			query := ""
			if len(args) == 1 {
				query = args[0]
			}
			return printProducts(cmd.OutOrStdout(), cat.Search(query))
		},
	}
}

// NewShowCommand creates the show command.
func NewShowCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the locally saved cart and wishlist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, _, err := opts.openApp(cmd.Context(), cmd, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer app.Close()

			out := cmd.OutOrStdout()
			if err := printCart(out, app.Cart.Snapshot()); err != nil {
				return err
			}
			fmt.Fprintln(out)
			return printWishlist(out, app.Wishlist.Snapshot())
		},
	}
}

func printProducts(w io.Writer, products []model.Product) error {
	if len(products) == 0 {
		_, err := fmt.Fprintln(w, "No products found.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tPRICE\tSTOCK")
	for _, p := range products {
		stock := fmt.Sprint(p.Stock)
		if p.Stock <= 0 {
			stock = "sold out"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.ProductID, p.Name, price(p.ProductInfo), stock)
	}
	return tw.Flush()
}

func printCart(w io.Writer, snap engine.Snapshot[model.CartItem]) error {
	if len(snap.Items) == 0 {
		_, err := fmt.Fprintln(w, "Your cart is empty.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tQTY\tPRICE\tSUBTOTAL")
	for _, item := range snap.Items {
		subtotal := decimal.NewFromFloat(item.EffectivePrice()).Mul(decimal.NewFromInt(int64(item.Quantity)))
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
			item.ProductID, item.Name, item.Quantity, price(item.ProductInfo), subtotal.StringFixed(2))
	}
	fmt.Fprintf(tw, "\t\t%d\t\t%s\n", snap.Count, snap.Total.StringFixed(2))
	return tw.Flush()
}

func printWishlist(w io.Writer, snap engine.Snapshot[model.WishlistItem]) error {
	if len(snap.Items) == 0 {
		_, err := fmt.Fprintln(w, "Your wishlist is empty.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tPRICE")
	for _, item := range snap.Items {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", item.ProductID, item.Name, price(item.ProductInfo))
	}
	return tw.Flush()
}

// price renders the effective price, followed by the list price when on sale.
func price(p model.ProductInfo) string {
	effective := decimal.NewFromFloat(p.EffectivePrice()).StringFixed(2)
	if p.SalePrice == nil || *p.SalePrice == p.Price {
		return effective
	}
	return effective + " (was " + decimal.NewFromFloat(p.Price).StringFixed(2) + ")"
}

// userLabel describes a user for the shell.
func userLabel(u *model.User) string {
	if u == nil {
		return "anonymous"
	}
	if strings.TrimSpace(u.Name) != "" {
		return fmt.Sprintf("%s <%s>", u.Name, u.Email)
	}
	return u.Email
}
