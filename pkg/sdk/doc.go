// Package paymesh provides an embedded Go client for the paymesh
// payment-routing agent backed by Redis and an external settlement
// ledger.
//
// The client wires the full agent in-process: provider registry,
// budget guard, payment pipeline and routing policy. Only the
// periodic background loops of the standalone server are omitted;
// call the operations directly instead.
//
//	client, _ := paymesh.New(ctx,
//	    paymesh.WithRedis("localhost:6379", ""),
//	    paymesh.WithLedger("https://ledger.example.com", apiKey),
//	    paymesh.WithLimits(1.0, 10.0, 0.05),
//	)
//	defer client.Close()
//
//	client.Providers().Register(ctx, paymesh.ProviderInfo{
//	    ID: "rei-1", Name: "REI Gateway", Chains: []string{"REI"},
//	    CostPerCall: 0.002, Reliability: 0.99,
//	})
//	route, _ := client.Routing().Decide(ctx, paymesh.RouteRequest{
//	    Chain: "REI", ServiceType: "inference", Amount: 0.002,
//	})
//	payment, _ := client.Payments().Pay(ctx, paymesh.PaymentRequest{
//	    ProviderID: route.ProviderID, Chain: "REI",
//	    ServiceType: "inference", Amount: 0.002,
//	})
package paymesh
