package main

import (
	"fmt"
	"strconv"
	"strings"

	"retailsync/internal/model"
	"retailsync/internal/register"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

// parseLine reads product:qty:price.
func parseLine(s string) (model.SaleLine, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return model.SaleLine{}, fmt.Errorf("item %q: want product:qty:price", s)
	}
	qty, err := strconv.Atoi(parts[1])
	if err != nil {
		return model.SaleLine{}, fmt.Errorf("item %q: bad quantity: %w", s, err)
	}
	price, err := decimal.NewFromString(parts[2])
	if err != nil {
		return model.SaleLine{}, fmt.Errorf("item %q: bad price: %w", s, err)
	}
	return model.SaleLine{ProductID: parts[0], Quantity: qty, UnitPrice: price}, nil
}

var saleCmd = &cobra.Command{
	Use:   "sale",
	Short: "Record a sale locally and queue it",
	Example: `  posagent sale --item p-100:2:4.50 --item p-200:1:12.00 --payment card
  posagent sale --item p-100:1:4.50 --payment cash --customer c-7`,
	RunE: func(cmd *cobra.Command, args []string) error {
		items, _ := cmd.Flags().GetStringArray("item")
		payment, _ := cmd.Flags().GetString("payment")
		customer, _ := cmd.Flags().GetString("customer")

		req := &model.SaleRequest{
			PaymentMethod: model.PaymentMethod(payment),
			CustomerID:    customer,
		}
		for _, it := range items {
			line, err := parseLine(it)
			if err != nil {
				return err
			}
			req.Items = append(req.Items, line)
		}

		receipt, err := register.New(app.store).RecordSale(cmd.Context(), req)
		if err != nil {
			return err
		}
		fmt.Println(titleStyle.Render(receipt.Reference))
		fmt.Println(field("sale", receipt.SaleID))
		fmt.Println(field("total", receipt.Total.StringFixed(2)))
		fmt.Println(mutedStyle.Render("queued for sync"))
		return nil
	},
}

var productCmd = &cobra.Command{
	Use:   "product",
	Short: "Edit local products",
}

var productPutCmd = &cobra.Command{
	Use:   "put",
	Short: "Create or update a product and queue the change",
	RunE: func(cmd *cobra.Command, args []string) error {
		f := cmd.Flags()
		id, _ := f.GetString("id")
		name, _ := f.GetString("name")
		sku, _ := f.GetString("sku")
		category, _ := f.GetString("category")
		priceStr, _ := f.GetString("price")
		qty, _ := f.GetInt("quantity")
		adjust, _ := f.GetInt("adjust")
		supplier, _ := f.GetString("supplier")

		price, err := decimal.NewFromString(priceStr)
		if err != nil {
			return fmt.Errorf("bad price %q: %w", priceStr, err)
		}
		p := &model.Product{
			ID:         id,
			Name:       name,
			SKU:        sku,
			Category:   category,
			Price:      price,
			Quantity:   qty,
			SupplierID: supplier,
			Adjustment: adjust,
		}
		op, err := register.New(app.store).PutProduct(cmd.Context(), p)
		if err != nil {
			return err
		}
		fmt.Printf("%s %s product %s\n", okStyle.Render("✓"), op, p.ID)
		return nil
	},
}

var productDeleteCmd = &cobra.Command{
	Use:   "delete <product-id>",
	Short: "Delete a product and queue the delete",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := register.New(app.store).Delete(cmd.Context(), model.EntityProduct, args[0]); err != nil {
			return err
		}
		fmt.Printf("%s delete product %s\n", okStyle.Render("✓"), args[0])
		return nil
	},
}

var stockCmd = &cobra.Command{
	Use:   "stock",
	Short: "Stock ledger operations",
}

var stockApplyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Queue a stock transaction (in, out or adjustment)",
	Example: `  posagent stock apply --item s-1 --type in --qty 20 --reason delivery
  posagent stock apply --item s-1 --type adjustment --new-qty 12 --reason count`,
	RunE: func(cmd *cobra.Command, args []string) error {
		f := cmd.Flags()
		item, _ := f.GetString("item")
		typ, _ := f.GetString("type")
		qty, _ := f.GetInt("qty")
		reason, _ := f.GetString("reason")
		reference, _ := f.GetString("reference")
		notes, _ := f.GetString("notes")

		req := &model.TransactionRequest{
			StockItemID: item,
			Type:        model.TransactionType(typ),
			Quantity:    qty,
			Reason:      reason,
			Reference:   reference,
			Notes:       notes,
		}
		if f.Changed("new-qty") {
			n, _ := f.GetInt("new-qty")
			req.NewQuantity = &n
		}

		txn, err := register.New(app.store).ApplyStock(cmd.Context(), req)
		if err != nil {
			return err
		}
		fmt.Printf("%s queued %s %s\n", okStyle.Render("✓"), txn.Type, txn.ID)
		if txn.NewQuantity != txn.PreviousQuantity || txn.Type == model.TransactionAdjustment {
			fmt.Println(field("local qty", fmt.Sprintf("%d → %d", txn.PreviousQuantity, txn.NewQuantity)))
		}
		return nil
	},
}

func init() {
	saleCmd.Flags().StringArray("item", nil, "Line item as product:qty:price (repeatable)")
	saleCmd.Flags().String("payment", "cash", "Payment method: cash, card, mobile, other")
	saleCmd.Flags().String("customer", "", "Customer id")
	_ = saleCmd.MarkFlagRequired("item")

	pf := productPutCmd.Flags()
	pf.String("id", "", "Product id (generated when empty)")
	pf.String("name", "", "Product name")
	pf.String("sku", "", "SKU")
	pf.Int("quantity", 0, "Quantity on hand for a new product")
	pf.Int("adjust", 0, "Signed change to the quantity of an existing product")
	pf.String("price", "0", "Unit price")
	pf.String("supplier", "", "Supplier id")
	_ = productPutCmd.MarkFlagRequired("name")
	productCmd.AddCommand(productPutCmd, productDeleteCmd)

	sf := stockApplyCmd.Flags()
	sf.String("item", "", "Stock item id")
	sf.String("type", "in", "Transaction type: in, out, adjustment")
	sf.Int("qty", 0, "Quantity for in/out")
	sf.Int("new-qty", 0, "Target quantity for adjustment")
	sf.String("reason", "", "Reason")
	sf.String("reference", "", "External reference")
	sf.String("notes", "", "Notes")
	_ = stockApplyCmd.MarkFlagRequired("item")
	stockCmd.AddCommand(stockApplyCmd)

	rootCmd.AddCommand(saleCmd, productCmd, stockCmd)
}
