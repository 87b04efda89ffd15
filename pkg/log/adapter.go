package log

import "github.com/sirupsen/logrus"

// ChromedpLogrusAdapter routes chromedp's printf-style log hooks into logrus
// Wire it with chromedp.WithLogf / WithErrorf / WithDebugf
type ChromedpLogrusAdapter struct {
	*logrus.Entry // Embed logrus Entry
}

// NewChromedpLogrusAdapter creates a new adapter tagged with component=chromedp
func NewChromedpLogrusAdapter(entry *logrus.Entry) *ChromedpLogrusAdapter {
	return &ChromedpLogrusAdapter{entry.WithField("component", "chromedp")}
}

// Logf logs an informational browser message at debug level; chromedp is chatty
func (l *ChromedpLogrusAdapter) Logf(f string, v ...interface{}) { l.Entry.Debugf(f, v...) }

// Errorf logs a browser protocol error
func (l *ChromedpLogrusAdapter) Errorf(f string, v ...interface{}) { l.Entry.Warnf(f, v...) }

// Debugf logs raw protocol traffic at trace level
func (l *ChromedpLogrusAdapter) Debugf(f string, v ...interface{}) { l.Entry.Tracef(f, v...) }
