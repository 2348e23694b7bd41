package parser

import "github.com/sells-group/order-parser/internal/model"

// SplitByDeliveryDate groups draft lines by delivery date in first-seen
// order. Lines without a date use the order's requested delivery date.
// Each split carries a copy of the order header with that date requested.
func SplitByDeliveryDate(d *model.Draft) []model.SplitOrder {
	if d == nil || len(d.Lines) == 0 {
		return []model.SplitOrder{}
	}
	index := make(map[string]int)
	splits := []model.SplitOrder{}
	for _, line := range d.Lines {
		date := line.DeliveryDate
		if date == "" {
			date = d.Order.RequestedDeliveryDate
		}
		i, ok := index[date]
		if !ok {
			order := d.Order
			order.RequestedDeliveryDate = date
			splits = append(splits, model.SplitOrder{DeliveryDate: date, Order: order})
			i = len(splits) - 1
			index[date] = i
		}
		splits[i].Lines = append(splits[i].Lines, line)
	}
	return splits
}
