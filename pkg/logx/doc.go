// Package logx configures tgscraper's structured logging.
//
// Logger is a thin value wrapper over zerolog. Every line goes to the
// console (short timestamp, comp, short caller) and to a JSON file that
// rolls over at local midnight (<dir>/<prefix>_YYYYMMDD.log). An optional
// Sender receives lines at or above a minimum level, rate limited.
package logx
