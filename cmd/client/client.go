// Command client is a thin HTTP client for the backtesting server's §6
// surface, one subcommand per route.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	address string
	port    int
)

func main() {
	root := &cobra.Command{Use: "client", Short: "Talk to a running backtest server"}
	root.PersistentFlags().StringVar(&address, "address", "127.0.0.1", "server address")
	root.PersistentFlags().IntVar(&port, "port", 9001, "server port")

	root.AddCommand(
		initCmd(),
		infoCmd(),
		nowCmd(),
		quotesCmd(),
		tickCmd(),
		insertOrderCmd(),
		modifyOrderCmd(),
		cancelOrderCmd(),
	)

	if err := root.Execute(); err != nil {
		log.Fatal().Err(err).Msg("client exited")
	}
}

func baseURL() string {
	return fmt.Sprintf("http://%s:%d", address, port)
}

func getJSON(path string) (map[string]any, error) {
	resp, err := http.Get(baseURL() + path)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return decodeAndReport(resp)
}

func postJSON(path string, body any) (map[string]any, error) {
	buf, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	resp, err := http.Post(baseURL()+path, "application/json", strings.NewReader(string(buf)))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return decodeAndReport(resp)
}

func decodeAndReport(resp *http.Response) (map[string]any, error) {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, fmt.Errorf("decoding response: %w", err)
		}
	}
	if resp.StatusCode >= 400 {
		return out, fmt.Errorf("server returned %s: %v", resp.Status, out)
	}
	return out, nil
}

func printResult(out map[string]any, err error) {
	if err != nil {
		log.Error().Err(err).Msg("request failed")
		return
	}
	pretty, _ := json.MarshalIndent(out, "", "  ")
	fmt.Println(string(pretty))
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init dataset_name",
		Args:  cobra.ExactArgs(1),
		Short: "Create a new backtest session over dataset_name",
		Run: func(_ *cobra.Command, args []string) {
			printResult(getJSON("/init/" + args[0]))
		},
	}
}

func infoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info backtest_id",
		Args:  cobra.ExactArgs(1),
		Short: "Show a session's version and dataset name",
		Run: func(_ *cobra.Command, args []string) {
			printResult(getJSON("/backtest/" + args[0] + "/info"))
		},
	}
}

func nowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "now backtest_id",
		Args:  cobra.ExactArgs(1),
		Short: "Show a session's current timestamp",
		Run: func(_ *cobra.Command, args []string) {
			printResult(getJSON("/backtest/" + args[0] + "/now"))
		},
	}
}

func quotesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "quotes backtest_id",
		Args:  cobra.ExactArgs(1),
		Short: "Fetch current quotes for a session",
		Run: func(_ *cobra.Command, args []string) {
			printResult(getJSON("/backtest/" + args[0] + "/fetch_quotes"))
		},
	}
}

func tickCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tick backtest_id",
		Args:  cobra.ExactArgs(1),
		Short: "Advance a session by one tick",
		Run: func(_ *cobra.Command, args []string) {
			printResult(getJSON("/backtest/" + args[0] + "/tick"))
		},
	}
}

func insertOrderCmd() *cobra.Command {
	var kind, symbol string
	var quantity, price float64
	cmd := &cobra.Command{
		Use:   "insert-order backtest_id",
		Args:  cobra.ExactArgs(1),
		Short: "Submit an order to a session",
		Run: func(_ *cobra.Command, args []string) {
			body := map[string]any{"order": map[string]any{
				"kind": kind, "symbol": symbol, "quantity": quantity, "price": price,
			}}
			printResult(postJSON("/backtest/"+args[0]+"/insert_order", body))
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "MarketBuy", "MarketBuy|MarketSell|LimitBuy|LimitSell|StopBuy|StopSell")
	cmd.Flags().StringVar(&symbol, "symbol", "", "order symbol")
	cmd.Flags().Float64Var(&quantity, "quantity", 0, "order quantity")
	cmd.Flags().Float64Var(&price, "price", 0, "reference/limit/stop price")
	return cmd
}

func modifyOrderCmd() *cobra.Command {
	var orderID uint64
	var delta float64
	cmd := &cobra.Command{
		Use:   "modify-order backtest_id",
		Args:  cobra.ExactArgs(1),
		Short: "Adjust a resting order's quantity",
		Run: func(_ *cobra.Command, args []string) {
			body := map[string]any{"order_id": orderID, "quantity_delta": delta}
			printResult(postJSON("/backtest/"+args[0]+"/modify_order", body))
		},
	}
	cmd.Flags().Uint64Var(&orderID, "order-id", 0, "target order id")
	cmd.Flags().Float64Var(&delta, "delta", 0, "quantity delta")
	return cmd
}

func cancelOrderCmd() *cobra.Command {
	var orderID uint64
	cmd := &cobra.Command{
		Use:   "cancel-order backtest_id",
		Args:  cobra.ExactArgs(1),
		Short: "Cancel a resting order",
		Run: func(_ *cobra.Command, args []string) {
			body := map[string]any{"order_id": orderID}
			printResult(postJSON("/backtest/"+args[0]+"/cancel_order", body))
		},
	}
	cmd.Flags().Uint64Var(&orderID, "order-id", 0, "target order id")
	return cmd
}
