package warehouse

import "github.com/crispab/codekvast-dashboard/internal/methods"

// StatusSnapshot is the price-plan/usage/agent snapshot returned by the
// warehouse status endpoint. It is replaced wholesale on every poll.
type StatusSnapshot struct {
	PricePlan                   string  `json:"pricePlan"`
	CollectionResolutionSeconds int     `json:"collectionResolutionSeconds"`
	MaxNumberOfAgents           int     `json:"maxNumberOfAgents"`
	MaxNumberOfMethods          int     `json:"maxNumberOfMethods"`
	NumMethods                  int     `json:"numMethods"`
	NumAgents                   int     `json:"numAgents"`
	NumLiveAgents               int     `json:"numLiveAgents"`
	NumLiveEnabledAgents        int     `json:"numLiveEnabledAgents"`
	CollectedSinceMillis        int64   `json:"collectedSinceMillis"`
	TrialPeriodEndedAtMillis    int64   `json:"trialPeriodEndedAtMillis,omitempty"`
	Agents                      []Agent `json:"agents"`
}

// Agent is one collection agent row in the status snapshot.
type Agent struct {
	ID                       int64  `json:"agentId"`
	AppName                  string `json:"appName"`
	AppVersion               string `json:"appVersion"`
	Environment              string `json:"environment"`
	Hostname                 string `json:"hostname"`
	PollReceivedAtMillis     int64  `json:"pollReceivedAtMillis"`
	DataReceivedAtMillis     int64  `json:"dataReceivedAtMillis"`
	NextPollExpectedAtMillis int64  `json:"nextPollExpectedAtMillis"`
	Alive                    bool   `json:"agentAlive"`
	LiveAndEnabled           bool   `json:"agentLiveAndEnabled"`
}

// searchResponse is the wire shape of the method search endpoint.
type searchResponse struct {
	Methods         []methods.MethodDescriptor `json:"methods"`
	NumMethods      int                        `json:"numMethods"`
	QueryTimeMillis int64                      `json:"queryTimeMillis"`
}
