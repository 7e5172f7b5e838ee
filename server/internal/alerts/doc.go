// Package alerts evaluates threshold rules against incoming quality reports
// and notifies Slack, Teams or generic HTTP webhooks when alerts fire or
// resolve.
//
// A rule condition is "field op value". Session fields (state, score,
// good_fraction, num_units, median_snr) produce one alert per session; any
// other field is checked on every unit (unit_label, unit_score or a metric
// name such as snr or isi_violations_ratio) and produces one alert per
// offending unit. Metric values that could not be computed never fire.
package alerts
