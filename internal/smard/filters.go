package smard

import (
	"github.com/wonny/meritorder/internal/contracts"
)

// SMARD chart_data filter ids
// ⭐ SSOT: 지표 ↔ SMARD filter 매핑은 여기서만
var filterIDs = map[contracts.Metric]int{
	contracts.MetricPrice:        4169, // Großhandelspreis, bidding zone DE-LU
	contracts.MetricTotalLoad:    410,  // Stromverbrauch: Gesamt (Netzlast)
	contracts.MetricWindOnshore:  4067,
	contracts.MetricWindOffshore: 1225,
	contracts.MetricSolar:        4068, // Photovoltaik
	contracts.MetricBiomass:      4066,
	contracts.MetricHydro:        1226,
	contracts.MetricLignite:      1223, // Braunkohle
	contracts.MetricHardCoal:     4069, // Steinkohle
	contracts.MetricNaturalGas:   4071, // Erdgas
	contracts.MetricNuclear:      1224,
}

// FilterID returns the SMARD filter of a metric
func FilterID(m contracts.Metric) (int, bool) {
	id, ok := filterIDs[m]
	return id, ok
}

// UnitFor returns the unit SMARD reports a metric in.
// Load and generation are energy per interval.
func UnitFor(m contracts.Metric) contracts.Unit {
	if m == contracts.MetricPrice {
		return contracts.UnitEURPerMWh
	}
	return contracts.UnitMWh
}
