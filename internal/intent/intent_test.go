package intent

import (
	"testing"

	"github.com/11996262609/CrossFit-ChatBot/internal/catalog"
)

func newTestClassifier(t *testing.T) *Classifier {
	t.Helper()
	cat, err := catalog.Default()
	if err != nil {
		t.Fatalf("catalog.Default() error: %v", err)
	}
	return NewClassifier(cat)
}

func TestClassify(t *testing.T) {
	c := newTestClassifier(t)

	tests := []struct {
		name      string
		in        Input
		wantKind  Kind
		wantTopic string
	}{
		{"greeting", Input{Text: "Oi"}, Greeting, ""},
		{"greeting with accents", Input{Text: "Olá, bom dia!"}, Greeting, ""},
		{"menu opens", Input{Text: "MENU"}, Greeting, ""},
		{"price beats greeting", Input{Text: "oi, quanto custa a mensalidade?"}, Price, ""},
		{"price without greeting token", Input{Text: "quanto custa a mensalidade"}, Price, ""},
		{"schedule", Input{Text: "quero marcar uma aula"}, Schedule, ""},
		{"payment receipt", Input{Text: "Bom dia, segue o comprovante"}, PaymentReceipt, ""},
		{"digit selection", Input{Text: "1"}, Selection, "1"},
		{"digit with spaces", Input{Text: "  2 "}, Selection, "2"},
		{"full row text", Input{Text: "1 - 🏋️ Como funcionam as aulas de CrossFit"}, Selection, "1"},
		{"row text without accents", Input{Text: "0 - falar com tche (gerente geral)"}, Selection, "0"},
		{"alias", Input{Text: "Judô"}, Selection, "2"},
		{"structured selection wins", Input{Text: "quanto custa", SelectionID: "3"}, Selection, "3"},
		{"unknown row id falls back to scan", Input{SelectionID: "menu"}, Greeting, ""},
		{"handoff keyword", Input{Text: "quero falar com um atendente"}, Handoff, ""},
		{"more info", Input{Text: "Mais"}, MoreInfo, ""},
		{"exit", Input{Text: "sair"}, Exit, ""},
		{"exit inside sentence is not exit", Input{Text: "vou sair mais cedo hoje"}, None, ""},
		{"unrecognized", Input{Text: "asdf qwer"}, None, ""},
		{"empty", Input{Text: "   "}, None, ""},
		{"digit outside menu", Input{Text: "7"}, None, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(tt.in)
			if got.Kind != tt.wantKind {
				t.Fatalf("Classify(%+v).Kind = %s, want %s", tt.in, got.Kind, tt.wantKind)
			}
			if tt.wantTopic == "" {
				if got.Topic != nil {
					t.Errorf("unexpected topic %q", got.Topic.ID)
				}
				return
			}
			if got.Topic == nil || got.Topic.ID != tt.wantTopic {
				t.Errorf("topic = %+v, want %s", got.Topic, tt.wantTopic)
			}
		})
	}
}

func TestClassifySilenced(t *testing.T) {
	c := newTestClassifier(t)

	tests := []struct {
		text string
		want Kind
	}{
		{"menu", Wake},
		{" MENU ", Wake},
		{"Início", Wake},
		{"oi", None},
		{"1", None},
		{"quanto custa", None},
		{"quero o menu", None},
	}
	for _, tt := range tests {
		if got := c.Classify(Input{Text: tt.text, Silenced: true}); got.Kind != tt.want {
			t.Errorf("Classify(%q, silenced).Kind = %s, want %s", tt.text, got.Kind, tt.want)
		}
	}
}
