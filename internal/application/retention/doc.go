// Package retention removes finished runs from the run repository on a cron
// schedule.
package retention
