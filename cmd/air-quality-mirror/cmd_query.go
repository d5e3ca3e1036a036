package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/i474232898/air-quality-mirror/internal/airquality"
)

var stationsCmd = &cobra.Command{
	Use:   "stations",
	Short: "List all measurement stations",
	Long:  `Print the station list, refreshing the local copy when it is stale.`,
	RunE:  runStations,
}

var sensorsCmd = &cobra.Command{
	Use:   "sensors STATION_ID",
	Short: "List the sensors of a station",
	Args:  cobra.ExactArgs(1),
	RunE:  runSensors,
}

var indexCmd = &cobra.Command{
	Use:   "index STATION_ID",
	Short: "Show the air quality index of a station",
	Args:  cobra.ExactArgs(1),
	RunE:  runIndex,
}

var seriesCmd = &cobra.Command{
	Use:   "series",
	Short: "Print the readings of a sensor",
	Long: `Print the readings of a sensor within a time range, backfilling
missing history from the remote first. Output is JSON.`,
	RunE: runSeries,
}

var (
	indexQuantity string
	seriesSensor  int64
	seriesFrom    string
	seriesTo      string
)

func init() {
	rootCmd.AddCommand(stationsCmd)
	rootCmd.AddCommand(sensorsCmd)
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(seriesCmd)

	indexCmd.Flags().StringVar(&indexQuantity, "quantity", airquality.OverallQuantity, "index quantity")

	seriesCmd.Flags().Int64Var(&seriesSensor, "sensor", 0, "sensor id")
	seriesCmd.Flags().StringVar(&seriesFrom, "from", "", "range start (RFC3339)")
	seriesCmd.Flags().StringVar(&seriesTo, "to", "", "range end (RFC3339); defaults to now")
	_ = seriesCmd.MarkFlagRequired("sensor")
	_ = seriesCmd.MarkFlagRequired("from")
}

func runStations(cmd *cobra.Command, _ []string) error {
	m, err := newMirror(cmd.Context())
	if err != nil {
		return err
	}
	defer m.Close()

	stations, err := m.repo.GetStationList(cmd.Context())
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCODENAME\tCITY\tNAME")
	for _, st := range stations {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", st.ID, st.Codename, st.City, st.Name)
	}
	return w.Flush()
}

func runSensors(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	m, err := newMirror(cmd.Context())
	if err != nil {
		return err
	}
	defer m.Close()

	sensors, err := m.repo.GetSensorList(cmd.Context(), id)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCODENAME\tNAME")
	for _, s := range sensors {
		fmt.Fprintf(w, "%d\t%s\t%s\n", s.ID, s.Codename, s.Name)
	}
	return w.Flush()
}

func runIndex(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	m, err := newMirror(cmd.Context())
	if err != nil {
		return err
	}
	defer m.Close()

	idx, err := m.repo.GetAQIndexValue(cmd.Context(), id, strings.ToUpper(indexQuantity))
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d (%s)\n", idx.Quantity, idx.Value, idx.Category)
	if idx.CriticalPollutant != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "critical pollutant: %s\n", idx.CriticalPollutant)
	}
	return nil
}

func runSeries(cmd *cobra.Command, _ []string) error {
	from, err := time.Parse(time.RFC3339, seriesFrom)
	if err != nil {
		return fmt.Errorf("invalid --from: %w", err)
	}
	var to time.Time
	if seriesTo != "" {
		if to, err = time.Parse(time.RFC3339, seriesTo); err != nil {
			return fmt.Errorf("invalid --to: %w", err)
		}
	}

	m, err := newMirror(cmd.Context())
	if err != nil {
		return err
	}
	defer m.Close()

	points, err := m.repo.GetSeries(cmd.Context(), seriesSensor, from, to)
	if errors.Is(err, airquality.ErrNotFound) {
		return fmt.Errorf("%w (list the sensors of its station first)", err)
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(points)
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}
