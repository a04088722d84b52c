package p2p

import "github.com/ethereum/go-ethereum/metrics"

// Metric names mirror the teacher's p2p/metrics.go naming convention
// (p2p/<Direction><Kind>).
const (
	metricInboundTraffic   = "p2p/InboundTraffic"
	metricOutboundTraffic  = "p2p/OutboundTraffic"
	metricInboundConnects  = "p2p/InboundConnects"
	metricOutboundConnects = "p2p/OutboundConnects"
)

var (
	ingressTrafficMeter = metrics.NewRegisteredMeter(metricInboundTraffic, nil)
	egressTrafficMeter  = metrics.NewRegisteredMeter(metricOutboundTraffic, nil)
	ingressConnectMeter = metrics.NewRegisteredMeter(metricInboundConnects, nil)
	egressConnectMeter  = metrics.NewRegisteredMeter(metricOutboundConnects, nil)
)
