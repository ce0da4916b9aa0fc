package reports

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/warp/fulfillment-engine/generic"
)

// =============================================================================
// SALES
// =============================================================================

type SalesReport struct {
	Filter      Filter
	TotalOrders int
	ByStatus    map[generic.OrderStatus]int
	// Revenue counts delivered orders only.
	Revenue           generic.Money
	AverageOrderValue generic.Money
	ByPanchayat       []PanchayatSales
	ByServiceType     []ServiceSales
}

type PanchayatSales struct {
	PanchayatID *generic.PanchayatID
	Name        string
	Orders      int
	Delivered   int
	Revenue     generic.Money
}

type ServiceSales struct {
	ServiceType generic.ServiceType
	Orders      int
	Delivered   int
	Revenue     generic.Money
}

// Sales counts every order in the filter by status and sums the revenue
// of the delivered ones. Rollups are sorted by revenue, highest first.
func (a *Aggregator) Sales(ctx context.Context, f Filter) (SalesReport, error) {
	if err := f.Validate(); err != nil {
		return SalesReport{}, err
	}

	var (
		orders     []generic.Order
		panchayats []generic.Panchayat
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		orders, err = a.Store.ListOrders(gctx, f.orders())
		return err
	})
	g.Go(func() (err error) {
		panchayats, err = a.Store.ListPanchayats(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return SalesReport{}, err
	}

	names := make(map[generic.PanchayatID]string, len(panchayats))
	for _, p := range panchayats {
		names[p.ID] = p.Name
	}

	report := SalesReport{
		Filter:            f,
		ByStatus:          make(map[generic.OrderStatus]int),
		Revenue:           generic.Zero,
		AverageOrderValue: generic.Zero,
	}
	byPanchayat := make(map[generic.PanchayatID]*PanchayatSales)
	byService := make(map[generic.ServiceType]*ServiceSales)
	delivered := 0

	for _, o := range orders {
		report.TotalOrders++
		report.ByStatus[o.Status]++

		var key generic.PanchayatID
		if o.PanchayatID != nil {
			key = *o.PanchayatID
		}
		ps, ok := byPanchayat[key]
		if !ok {
			ps = &PanchayatSales{PanchayatID: o.PanchayatID, Name: panchayatName(names, o.PanchayatID), Revenue: generic.Zero}
			byPanchayat[key] = ps
		}
		ss, ok := byService[o.ServiceType]
		if !ok {
			ss = &ServiceSales{ServiceType: o.ServiceType, Revenue: generic.Zero}
			byService[o.ServiceType] = ss
		}
		ps.Orders++
		ss.Orders++

		if o.Status != generic.OrderDelivered {
			continue
		}
		delivered++
		report.Revenue = report.Revenue.Add(o.TotalAmount)
		ps.Delivered++
		ps.Revenue = ps.Revenue.Add(o.TotalAmount)
		ss.Delivered++
		ss.Revenue = ss.Revenue.Add(o.TotalAmount)
	}

	if delivered > 0 {
		report.AverageOrderValue = generic.MoneyOf(report.Revenue.Value.DivRound(decimal.NewFromInt(int64(delivered)), generic.MoneyPlaces))
	}
	for _, ps := range byPanchayat {
		report.ByPanchayat = append(report.ByPanchayat, *ps)
	}
	sort.Slice(report.ByPanchayat, func(i, j int) bool {
		x, y := report.ByPanchayat[i], report.ByPanchayat[j]
		if !x.Revenue.Equal(y.Revenue) {
			return x.Revenue.GreaterThan(y.Revenue)
		}
		return x.Name < y.Name
	})
	for _, ss := range byService {
		report.ByServiceType = append(report.ByServiceType, *ss)
	}
	sort.Slice(report.ByServiceType, func(i, j int) bool {
		x, y := report.ByServiceType[i], report.ByServiceType[j]
		if !x.Revenue.Equal(y.Revenue) {
			return x.Revenue.GreaterThan(y.Revenue)
		}
		return x.ServiceType < y.ServiceType
	})
	return report, nil
}

func panchayatName(names map[generic.PanchayatID]string, id *generic.PanchayatID) string {
	if id == nil {
		return generic.UnknownName
	}
	name, ok := names[*id]
	if !ok {
		return generic.UnknownName
	}
	return generic.NameOr(&name)
}
