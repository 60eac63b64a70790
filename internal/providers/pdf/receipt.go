package pdf

import (
	"context"
	"errors"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/line"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

var ErrEmptyReceipt = errors.New("receipt_missing_booking")

// ReceiptData is the pre-formatted content of a booking receipt.
type ReceiptData struct {
	BookingID    string
	IssuedAt     string
	CustomerName string
	CustomerMail string
	GarageName   string
	GarageAddr   string
	StartTime    string
	EndTime      string
	Hours        string
	PricePerHour string
	Total        string
	PaidAt       string
	Reference    string
}

func (p *PDFProvider) GenerateReceipt(ctx context.Context, receipt ReceiptData) ([]byte, error) {
	if receipt.BookingID == "" {
		return nil, ErrEmptyReceipt
	}

	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	m.AddRow(20,
		text.NewCol(8, "Parking receipt", props.Text{
			Size:  20,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
		text.NewCol(4, "Booking "+receipt.BookingID, props.Text{
			Size:  9,
			Align: align.Right,
			Top:   4,
		}),
	)

	m.AddRow(20,
		col.New(6).Add(
			text.New("Issued: "+receipt.IssuedAt, props.Text{Top: 0}),
			text.New("Paid: "+receipt.PaidAt, props.Text{Top: 4}),
			text.New("Reference: "+receipt.Reference, props.Text{Top: 8}),
		),
		col.New(6),
	)

	m.AddRow(30,
		col.New(6).Add(
			text.New("Customer", props.Text{Style: fontstyle.Bold}),
			text.New(receipt.CustomerName, props.Text{Top: 5}),
			text.New(receipt.CustomerMail, props.Text{Top: 9}),
		),
		col.New(6).Add(
			text.New("Garage", props.Text{Style: fontstyle.Bold}),
			text.New(receipt.GarageName, props.Text{Top: 5}),
			text.New(receipt.GarageAddr, props.Text{Top: 9}),
		),
	)

	m.AddRow(10,
		text.NewCol(6, "Period", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, "Hours", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Rate", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Amount", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)
	m.AddRow(2, line.NewCol(12))
	m.AddRow(12,
		text.NewCol(6, receipt.StartTime+" - "+receipt.EndTime, props.Text{Size: 9}),
		text.NewCol(2, receipt.Hours, props.Text{Size: 9, Align: align.Right}),
		text.NewCol(2, receipt.PricePerHour, props.Text{Size: 9, Align: align.Right}),
		text.NewCol(2, receipt.Total, props.Text{Size: 9, Align: align.Right}),
	)

	m.AddRow(10,
		col.New(8),
		text.NewCol(2, "Total", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, receipt.Total, props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)

	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}
	return doc.GetBytes(), nil
}
