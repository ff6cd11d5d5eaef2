package main

import (
	"cmp"
	"encoding/json"
	"math"
	"slices"
	"strings"
)

const LoggedOutWelcome = "Log in to get started"

// Amount is a float64 that survives JSON even when it is not finite.
// A withdrawal of -Infinity or an overflowing sum leaves such values in the
// ledger, and they are encoded as "Infinity", "-Infinity" or "NaN".
type Amount float64

func (a Amount) MarshalJSON() ([]byte, error) {
	f := float64(a)
	switch {
	case math.IsNaN(f):
		return []byte(`"NaN"`), nil
	case math.IsInf(f, 1):
		return []byte(`"Infinity"`), nil
	case math.IsInf(f, -1):
		return []byte(`"-Infinity"`), nil
	}
	return json.Marshal(f)
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		if text == "NaN" {
			*a = Amount(math.NaN())
			return nil
		}
		*a = Amount(ParseNumber(text))
		return nil
	}

	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*a = Amount(f)
	return nil
}

type MovementRow struct {
	Index  int    `json:"index"`
	Type   string `json:"type"`
	Amount Amount `json:"amount"`
}

type SummaryView struct {
	TotalIn  Amount `json:"totalIn"`
	TotalOut Amount `json:"totalOut"`
	Interest Amount `json:"interest"`
}

// View is everything the presentation layer needs to draw the app.
// Movements are in display order; Index is the 1-based position in it.
type View struct {
	Welcome   string        `json:"welcome"`
	Visible   bool          `json:"visible"`
	Sorted    bool          `json:"sorted"`
	Balance   Amount        `json:"balance"`
	Summary   SummaryView   `json:"summary"`
	Movements []MovementRow `json:"movements"`
}

func LoggedOutView() View {
	return View{Welcome: LoggedOutWelcome, Movements: []MovementRow{}}
}

func BuildView(acc *Account, sorted bool) View {
	if acc == nil {
		return LoggedOutView()
	}
	summary := ComputeSummary(acc)
	return View{
		Welcome: "Welcome back, " + strings.Split(acc.Owner, " ")[0],
		Visible: true,
		Sorted:  sorted,
		Balance: Amount(ComputeBalance(acc)),
		Summary: SummaryView{
			TotalIn:  Amount(summary.TotalIn),
			TotalOut: Amount(summary.TotalOut),
			Interest: Amount(summary.Interest),
		},
		Movements: movementRows(acc.Movements, sorted),
	}
}

// movementRows never reorders movs itself.
func movementRows(movs []float64, sorted bool) []MovementRow {
	display := slices.Clone(movs)
	if sorted {
		slices.SortStableFunc(display, cmp.Compare[float64])
	}

	rows := make([]MovementRow, len(display))
	for i, mov := range display {
		typ := "deposit"
		if mov < 0 {
			typ = "withdrawal"
		}
		rows[i] = MovementRow{Index: i + 1, Type: typ, Amount: Amount(mov)}
	}
	return rows
}
