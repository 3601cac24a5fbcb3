package telephony

import (
	"encoding/xml"
	"fmt"
	"strings"
)

// scriptVoice is the synthesized voice used for every spoken line.
const scriptVoice = "Polly.Joanna"

// questionPauseSec is how long the script waits after each interview question
// so the respondent can answer on the recording.
const questionPauseSec = 5

// Script is a voice-script document the provider executes during a call. It
// renders to the provider's XML instruction format.
type Script struct {
	verbs []any
}

type sayVerb struct {
	XMLName xml.Name `xml:"Say"`
	Voice   string   `xml:"voice,attr"`
	Text    string   `xml:",chardata"`
}

type gatherVerb struct {
	XMLName xml.Name `xml:"Gather"`
	Input   string   `xml:"input,attr"`
	Timeout int      `xml:"timeout,attr"`
	Action  string   `xml:"action,attr"`
	Method  string   `xml:"method,attr"`
	Say     sayVerb
}

type pauseVerb struct {
	XMLName xml.Name `xml:"Pause"`
	Length  int      `xml:"length,attr"`
}

type hangupVerb struct {
	XMLName xml.Name `xml:"Hangup"`
}

func (s *Script) Say(text string) *Script {
	s.verbs = append(s.verbs, sayVerb{Voice: scriptVoice, Text: text})
	return s
}

func (s *Script) GatherSpeech(action, prompt string, timeoutSec int) *Script {
	s.verbs = append(s.verbs, gatherVerb{
		Input:   "speech",
		Timeout: timeoutSec,
		Action:  action,
		Method:  "POST",
		Say:     sayVerb{Voice: scriptVoice, Text: prompt},
	})
	return s
}

func (s *Script) Pause(seconds int) *Script {
	s.verbs = append(s.verbs, pauseVerb{Length: seconds})
	return s
}

func (s *Script) Hangup() *Script {
	s.verbs = append(s.verbs, hangupVerb{})
	return s
}

// Render produces the XML document. The output is always a well formed
// <Response> element, even when the script is empty.
func (s *Script) Render() (string, error) {
	var b strings.Builder
	b.WriteString(xml.Header)
	b.WriteString("<Response>")
	for _, v := range s.verbs {
		out, err := xml.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("render script verb: %w", err)
		}
		b.Write(out)
	}
	b.WriteString("</Response>")
	return b.String(), nil
}

// GreetingScript opens the call: introduce the purpose, ask for recording
// consent, and hand the spoken answer to the consent callback. If nothing is
// heard the call ends politely.
func GreetingScript(campaignName, consentAction string) *Script {
	s := &Script{}
	s.Say(fmt.Sprintf(
		"Hello, this is an automated research call on behalf of %s. "+
			"We are conducting a brief market survey and would like to record this call for research purposes.",
		campaignName))
	s.GatherSpeech(consentAction,
		"Do we have your consent to record this call? Please say yes or no.", 5)
	s.Say("We did not receive a response. Goodbye.")
	s.Hangup()
	return s
}

// DeclinedScript ends the call after consent was refused.
func DeclinedScript() *Script {
	s := &Script{}
	s.Say("Thank you for your time. We will not record this call. Goodbye.")
	s.Hangup()
	return s
}

// InterviewScript thanks the respondent and reads the campaign's interview
// questions, pausing after each one so the answer lands on the recording.
// Questions are the lines of the campaign prompt that start with a dash; a
// campaign without any falls back to a single generic question.
func InterviewScript(promptTemplate string) *Script {
	questions := ParseQuestions(promptTemplate)
	if len(questions) == 0 {
		questions = []string{"Could you tell us about your recent experience with product availability and pricing?"}
	}

	s := &Script{}
	s.Say("Thank you. Your responses will be recorded.")
	for _, q := range questions {
		s.Say(q)
		s.Pause(questionPauseSec)
	}
	s.Say("That concludes our survey. Thank you very much for your time. Goodbye.")
	s.Hangup()
	return s
}

// ParseQuestions extracts interview questions from a campaign prompt
// template: every line starting with "-" is a question.
func ParseQuestions(promptTemplate string) []string {
	var out []string
	for _, line := range strings.Split(promptTemplate, "\n") {
		line = strings.TrimSpace(line)
		if q, ok := strings.CutPrefix(line, "-"); ok {
			q = strings.TrimSpace(q)
			if q != "" {
				out = append(out, q)
			}
		}
	}
	return out
}
