// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/vendlink/pkg/planogram"
	"github.com/Thermoquad/vendlink/pkg/store"
	"github.com/Thermoquad/vendlink/pkg/vmc"
)

var (
	selectionsTray  int
	selectionsSales bool
	selectionsJams  bool
	selectionsDiff  string
)

var selectionsCmd = &cobra.Command{
	Use:   "selections",
	Short: "Show the selections, sales and jams kept in the store",
	Long: `Print the locally stored selection table.

Reads the bitcask store given by --store (or store_dir in the config file).
  --tray n              only selections n*10+1..n*10+10
  --sales               the sales log
  --jams                the jam log
  --diff planogram.toml the set commands run --planogram would send`,
	RunE: runSelections,
}

func init() {
	rootCmd.AddCommand(selectionsCmd)
	selectionsCmd.Flags().IntVar(&selectionsTray, "tray", -1, "Only show one tray (0-9)")
	selectionsCmd.Flags().BoolVar(&selectionsSales, "sales", false, "Show the sales log")
	selectionsCmd.Flags().BoolVar(&selectionsJams, "jams", false, "Show the jam log")
	selectionsCmd.Flags().StringVar(&selectionsDiff, "diff", "", "Show changes needed to reach this planogram")
}

func runSelections(cmd *cobra.Command, args []string) error {
	if err := loadConfig(cmd); err != nil {
		return err
	}
	if cfg.StoreDir == "" {
		return fmt.Errorf("--store is required")
	}
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	switch {
	case selectionsDiff != "":
		return printDiff(st)
	case selectionsSales:
		return printSales(st)
	case selectionsJams:
		return printJams(st)
	default:
		return printSelections(st)
	}
}

func newTable(headers ...string) *table.Table {
	headerStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true).Padding(0, 1)
	cellStyle := lipgloss.NewStyle().Padding(0, 1)
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("240"))).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers(headers...)
}

func printSelections(st store.Store) error {
	sels, err := st.Selections()
	if err != nil {
		return err
	}
	if selectionsTray >= 0 {
		sels = store.ForTray(sels, selectionsTray)
	}
	if len(sels) == 0 {
		fmt.Println("(no selections stored)")
		return nil
	}

	t := newTable("Selection", "Tray", "Price", "Stock", "Product", "State", "Source", "Updated")
	for _, s := range sels {
		source := "app"
		if s.ReportedByVM {
			source = "vmc"
		}
		state := "-"
		if s.State != 0 {
			state = s.State.String()
		}
		t.Row(
			strconv.Itoa(int(s.Number)),
			strconv.Itoa(s.Tray),
			strconv.FormatUint(uint64(s.Price), 10),
			fmt.Sprintf("%d/%d", s.Inventory, s.Capacity),
			strconv.Itoa(int(s.ProductID)),
			state,
			source,
			s.UpdatedAt.Format("2006-01-02 15:04"),
		)
	}
	fmt.Println(t)
	return nil
}

func printSales(st store.Store) error {
	sales, err := st.Sales()
	if err != nil {
		return err
	}
	if len(sales) == 0 {
		fmt.Println("(no sales recorded)")
		return nil
	}

	var revenue uint64
	t := newTable("Time", "Selection", "Price", "Payment", "Outcome", "ID")
	for _, s := range sales {
		mode := "-"
		if s.Mode != 0 {
			mode = s.Mode.String()
		}
		if s.Outcome == store.OutcomeSucceeded {
			revenue += uint64(s.Price)
		}
		t.Row(
			s.At.Format("2006-01-02 15:04:05"),
			strconv.Itoa(int(s.Selection)),
			strconv.FormatUint(uint64(s.Price), 10),
			mode,
			string(s.Outcome),
			s.ID,
		)
	}
	fmt.Println(t)
	fmt.Printf("%d sales, revenue %d\n", len(sales), revenue)
	return nil
}

func printJams(st store.Store) error {
	jams, err := st.Jams()
	if err != nil {
		return err
	}
	if len(jams) == 0 {
		fmt.Println("(no jams recorded)")
		return nil
	}

	t := newTable("Time", "Selection", "Status", "Reason")
	for _, j := range jams {
		t.Row(
			j.At.Format("2006-01-02 15:04:05"),
			strconv.Itoa(int(j.Selection)),
			fmt.Sprintf("%s (0x%02X)", j.Status, uint8(j.Status)),
			j.Reason,
		)
	}
	fmt.Println(t)
	return nil
}

func printDiff(st store.Store) error {
	p, err := planogram.Load(selectionsDiff)
	if err != nil {
		return err
	}
	changes, err := planogram.Diff(p, st)
	if err != nil {
		return err
	}
	if len(changes) == 0 {
		fmt.Println("store already matches the planogram")
		return nil
	}

	t := newTable("Selector", "Field", "Value", "Command")
	for _, c := range changes {
		t.Row(
			vmc.FormatSelector(c.Selector),
			string(c.Field),
			strconv.FormatUint(uint64(c.Value), 10),
			vmc.FormatMessage(c.Message()),
		)
	}
	fmt.Println(t)
	return nil
}
