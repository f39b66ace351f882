package portal

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
)

const (
	fixtureUsername    = "1234567A"
	fixturePassword    = "secret"
	fixtureTokenId     = "token-id-42"
	fixtureAccessToken = "access-42"
	fixtureCookie      = "idtkn"
	fixturePDF         = "%PDF-1.4 attestation"
)

type fixtureBlock struct {
	id       string
	question string
	// choices is empty for a text input
	choices []string
	// opens maps a choice to the id of the block it reveals
	opens map[string]string
}

// fixturePortal serves a miniature copy of the portal.
type fixturePortal struct {
	t   *testing.T
	srv *httptest.Server

	mu              sync.Mutex
	alreadyDeclared bool
	reopenable      bool
	topBlocks       []fixtureBlock
	hidden          map[string][]fixtureBlock
	navigation      string
	pages           int
	rowsPerPage     int

	questionPosts int
	submitted     url.Values
	filter        url.Values
	visitedPages  []int
	authCalls     int
	authorizeSeen []url.Values
	rejectBearer  int
}

func defaultBlocks() []fixtureBlock {
	yesNo := []string{AnswerYes, AnswerNo}
	return []fixtureBlock{
		{id: BlockWork, question: Questions[BlockWork], choices: yesNo, opens: map[string]string{AnswerYes: "blocTravail"}},
		{id: BlockTraining, question: Questions[BlockTraining], choices: yesNo},
		{id: BlockSickness, question: Questions[BlockSickness], choices: yesNo},
		{id: BlockMaternity, question: Questions[BlockMaternity], choices: yesNo},
		{id: BlockPension, question: Questions[BlockPension], choices: yesNo},
		{id: BlockDisability, question: Questions[BlockDisability], choices: yesNo},
		{id: BlockSearching, question: Questions[BlockSearching], choices: yesNo},
	}
}

func newFixturePortal(t *testing.T) *fixturePortal {
	f := &fixturePortal{
		t:         t,
		topBlocks: defaultBlocks(),
		hidden: map[string][]fixtureBlock{
			"blocTravail": {
				{id: BlockHours, question: Questions[BlockHours]},
				{id: BlockSalary, question: Questions[BlockSalary]},
			},
		},
		pages:       3,
		rowsPerPage: 10,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /espacepersonnel/", f.bootstrap)
	mux.HandleFunc("GET /static/main.4f2a9c.js", f.mainScript)
	mux.HandleFunc("GET /connexion/oauth2/authorize", f.authorize)
	mux.HandleFunc("GET /connexion/XUI/", f.html(`<html><body>login</body></html>`))
	mux.HandleFunc("GET /connexion/json/serverinfo/", f.serverInfo)
	mux.HandleFunc("POST /connexion/json/realms/root/realms/individu/authenticate", f.authenticate)
	mux.HandleFunc("GET /connexion/success", f.success)
	mux.HandleFunc("GET /api/navigation", f.bearer(f.navigationJSON))
	mux.HandleFunc("GET /api/situations", f.bearer(f.situationJSON))

	mux.HandleFunc("GET /actu/start", f.html(`<form method="post" action="/actu/accueil"><input type="hidden" name="jeton" value="j1"></form>`))
	mux.HandleFunc("POST /actu/accueil", f.actuHome)
	mux.HandleFunc("POST /actualisation/reouvrir", f.formationPage)
	mux.HandleFunc("POST /actualisation/formation", f.formation)
	mux.HandleFunc("POST /actualisation/questions", f.questions)
	mux.HandleFunc("POST /actualisation/confirmation", f.html(`<div id="link-redirect"><a href="/actu/fin">Continuer</a></div>`))
	mux.HandleFunc("GET /actu/fin", f.html(`<p><a class="pdf-fat-link" href="/actu/attestation.pdf">Télécharger</a></p>`))
	mux.HandleFunc("GET /actu/attestation.pdf", f.pdf)

	mux.HandleFunc("GET /courriers/start", f.html(`<form method="post" action="/courriers/entree"><input type="hidden" name="t" value="1"><input type="submit" value="Go"></form>`))
	mux.HandleFunc("POST /courriers/entree", f.html(`<form method="get" action="/courriers/liste">
		<input type="radio" name="etat" id="tous" value="TOUS" checked>
		<input type="radio" name="etat" id="nonlu" value="NONLU">
		<input type="text" name="dateDebut" value="">
		<select name="tri"><option value="date">Date</option><option value="titre">Titre</option></select>
	</form>`))
	mux.HandleFunc("GET /courriers/liste", f.listing)
	mux.HandleFunc("GET /courriers/voir", f.viewMail)
	mux.HandleFunc("GET /courriers/pdf", f.pdf)
	mux.HandleFunc("GET /courriers/html", f.html(`<p>not a pdf</p>`))

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)

	f.navigation = fmt.Sprintf(`{"burger": [
		{"code": "accueil", "libelle": "Accueil", "url": "%[1]s/", "sousElements": []},
		{"code": "dossier-de", "libelle": "Mon dossier", "sousElements": [
			{"code": "actualisation", "libelle": "Actualisation", "sousElements": [
				{"code": "m-actualiser", "libelle": "M'actualiser", "url": "%[1]s/actu/start"}
			]},
			{"code": "echanges-avec-pe", "libelle": "Mes échanges", "sousElements": [
				{"code": "courriers-recus-pe", "libelle": "Courriers", "url": "%[1]s/courriers/start"}
			]}
		]}
	]}`, f.srv.URL)
	return f
}

func (f *fixturePortal) url(path string) string {
	return f.srv.URL + path
}

func (f *fixturePortal) html(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, "<!DOCTYPE html><html><body>%s</body></html>", body)
	}
}

// redirect keeps `location` verbatim, fragment included.
func redirect(w http.ResponseWriter, location string) {
	w.Header().Set("Location", location)
	w.WriteHeader(http.StatusFound)
}

func (f *fixturePortal) pdf(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/pdf")
	io.WriteString(w, fixturePDF)
}

func (f *fixturePortal) bootstrap(w http.ResponseWriter, r *http.Request) {
	f.html(`<div id="app"></div><script src="/static/runtime.js"></script><script src="/static/main.4f2a9c.js"></script>`)(w, r)
}

func (f *fixturePortal) mainScript(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/javascript")
	fmt.Fprintf(w, `!function(){var e={production:!0,peam:{openAMUrl:"%[1]s",redirectUri:"%[1]s/espacepersonnel/",commonRessource:{realm:"/individu",clientId:"USERS_PE_client"},authorizeResource:{url:"/connexion/oauth2/authorize",scope:"api_peconnect-individuv1 openid profile",responseType:"id_token token"}},rest:{ex002:{situationsUtilisateur:"%[1]s/api/situations"}},layout:{title:'Espace {personnel}',rest:{ex017:{uri:"%[1]s/api",navigation:"/navigation"}}}};window.cfg=e}();`, f.srv.URL)
}

func (f *fixturePortal) authorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f.mu.Lock()
	f.authorizeSeen = append(f.authorizeSeen, q)
	f.mu.Unlock()
	if len(q.Get("state")) != 16 || len(q.Get("nonce")) != 16 ||
		q.Get("client_id") != "USERS_PE_client" ||
		q.Get("scope") != "api_peconnect-individuv1 openid profile" ||
		q.Get("response_type") != "id_token token" {
		http.Error(w, "bad authorize request", http.StatusBadRequest)
		return
	}
	if strings.Contains(r.URL.RawQuery, "+") {
		http.Error(w, "spaces must be %20", http.StatusBadRequest)
		return
	}
	redirect(w, "/connexion/XUI/?realm=%2Fobsolete&goto=%2Fespacepersonnel#login&realm=/individu")
}

func (f *fixturePortal) serverInfo(w http.ResponseWriter, r *http.Request) {
	if !strings.HasSuffix(r.URL.Path, "/*") || r.URL.Query().Get("realm") != "/individu" {
		http.Error(w, "bad server info request", http.StatusBadRequest)
		return
	}
	host := strings.Split(f.srv.Listener.Addr().String(), ":")[0]
	json.NewEncoder(w).Encode(map[string]any{
		"cookieName":   fixtureCookie,
		"domains":      []string{host},
		"secureCookie": false,
	})
}

const callbackTemplate = `{"authId": "%s", "template": "", "stage": "LDAP1", "callbacks": [
	{"type": "NameCallback", "output": [{"name": "prompt", "value": "Identifiant"}], "input": [{"name": "IDToken1", "value": "%s"}], "_id": 0},
	{"type": "PasswordCallback", "output": [{"name": "prompt", "value": "Mot de passe"}], "input": [{"name": "IDToken2", "value": ""}], "_id": 1}
]}`

func (f *fixturePortal) authenticate(w http.ResponseWriter, r *http.Request) {
	for key, value := range authenticateHeaders {
		if r.Header.Get(key) != value {
			http.Error(w, "missing header "+key, http.StatusBadRequest)
			return
		}
	}
	if r.URL.Query().Get("realm") != "/individu" || r.URL.Query().Get("goto") != "/espacepersonnel" {
		http.Error(w, "bad authenticate query", http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	f.authCalls++
	f.mu.Unlock()

	body, _ := io.ReadAll(r.Body)
	if len(body) == 0 {
		fmt.Fprintf(w, callbackTemplate, "step1", "")
		return
	}

	var form struct {
		AuthId    string `json:"authId"`
		Stage     string `json:"stage"`
		Callbacks []struct {
			Input []struct {
				Value string `json:"value"`
			} `json:"input"`
		} `json:"callbacks"`
	}
	err := json.Unmarshal(body, &form)
	if err != nil || len(form.Callbacks) != 2 || form.Stage != "LDAP1" {
		http.Error(w, "bad callback form", http.StatusBadRequest)
		return
	}

	switch form.AuthId {
	case "step1":
		if form.Callbacks[0].Input[0].Value != fixtureUsername {
			http.Error(w, "unknown user", http.StatusUnauthorized)
			return
		}
		fmt.Fprintf(w, callbackTemplate, "step2", fixtureUsername)
	case "step2":
		if form.Callbacks[1].Input[0].Value != fixturePassword {
			http.Error(w, "wrong password", http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{
			"tokenId":    fixtureTokenId,
			"successUrl": f.url("/connexion/success"),
		})
	default:
		http.Error(w, "unknown auth id", http.StatusBadRequest)
	}
}

func (f *fixturePortal) success(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(fixtureCookie)
	if err != nil || cookie.Value != fixtureTokenId {
		http.Error(w, "no session cookie", http.StatusUnauthorized)
		return
	}
	redirect(w, "/espacepersonnel/#access_token="+fixtureAccessToken+"&token_type=Bearer&state=x")
}

func (f *fixturePortal) bearer(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		expired := f.rejectBearer > 0
		if expired {
			f.rejectBearer--
		}
		f.mu.Unlock()
		if expired {
			http.Error(w, "session expired", http.StatusUnauthorized)
			return
		}
		if r.Header.Get("Authorization") != "Bearer "+fixtureAccessToken ||
			r.Header.Get("pe-nom-application") != "pn073-tdbcandidat" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (f *fixturePortal) navigationJSON(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	io.WriteString(w, f.navigation)
}

func (f *fixturePortal) situationJSON(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	io.WriteString(w, `{
		"indemnisation": {"dateDecheanceDroitAre": "2025-03-31T00:00:00+02:00", "indemnisationJournalierNet": "31.25"},
		"actualisation": {"periodeCourante": {"reference": "2024-02-01"}, "service": {"url": "/actu/start"}},
		"identite": {"nom": "DUPONT"}
	}`)
}

func (f *fixturePortal) actuHome(w http.ResponseWriter, r *http.Request) {
	r.ParseForm()
	if r.PostForm.Get("jeton") != "j1" {
		http.Error(w, "missing jeton", http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	declared, reopenable := f.alreadyDeclared, f.reopenable
	f.mu.Unlock()

	if declared {
		body := `<div class="alert">Vous avez déjà déclaré votre situation pour cette
			période.</div>`
		if reopenable {
			body += `<form method="post" action="/actualisation/reouvrir"><input type="hidden" name="modifier" value="1"></form>`
		}
		f.html(body)(w, r)
		return
	}
	f.formationPage(w, r)
}

func (f *fixturePortal) formationPage(w http.ResponseWriter, r *http.Request) {
	f.html(`<form method="post" action="/actualisation/formation">
		<input type="hidden" name="etape" value="formation">
		<fieldset>
			<input type="radio" name="formation" value="OUI">
			<input type="radio" name="formation" value="NON">
		</fieldset>
		<input type="submit" name="suivant" value="Suivant">
	</form>`)(w, r)
}

func (f *fixturePortal) formation(w http.ResponseWriter, r *http.Request) {
	r.ParseForm()
	if r.PostForm.Get("formation") != AnswerNo || r.PostForm.Get("etape") != "formation" {
		http.Error(w, "formation must be NON", http.StatusBadRequest)
		return
	}
	if r.PostForm.Has("suivant") {
		http.Error(w, "submit buttons are not sent", http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	var page strings.Builder
	page.WriteString(`<form method="post" action="/actualisation/questions">`)
	page.WriteString(`<input type="hidden" name="etape" value="questions"><div><fieldset>`)
	for _, b := range f.topBlocks {
		page.WriteString(renderBlock(b))
	}
	page.WriteString(`</fieldset></div>`)
	for id, blocks := range f.hidden {
		fmt.Fprintf(&page, `<div id="%s" class="js-hide"><fieldset id="%s-fields">`, id, id)
		for _, b := range blocks {
			page.WriteString(renderBlock(b))
		}
		page.WriteString(`</fieldset></div>`)
	}
	page.WriteString(`</form>`)
	f.html(page.String())(w, r)
}

func renderBlock(b fixtureBlock) string {
	var out strings.Builder
	fmt.Fprintf(&out, `<div class="form-line" id="%s">`, b.id)
	if len(b.choices) == 0 {
		fmt.Fprintf(&out, `<div class="label"><label for="%s-input">%s</label></div>`, b.id, b.question)
		fmt.Fprintf(&out, `<input type="text" id="%s-input" name="%s-value" value="">`, b.id, b.id)
	} else {
		fmt.Fprintf(&out, `<div class="label"><p class="list-title">%s <a href="#" class="aide">Aide</a></p></div>`, b.question)
		for _, choice := range b.choices {
			if opened, ok := b.opens[choice]; ok {
				fmt.Fprintf(&out, `<input type="radio" class="js-open" id="%s-open" name="%s-choice" value="%s">`, opened, b.id, choice)
			} else {
				fmt.Fprintf(&out, `<input type="radio" id="%s-%s" name="%s-choice" value="%s">`, b.id, choice, b.id, choice)
			}
		}
	}
	out.WriteString(`</div>`)
	return out.String()
}

func (f *fixturePortal) questions(w http.ResponseWriter, r *http.Request) {
	r.ParseForm()

	f.mu.Lock()
	f.questionPosts++
	f.submitted = r.PostForm
	f.mu.Unlock()

	var items strings.Builder
	for _, key := range []string{"travailleBloc-choice", "rechercheBloc-choice", "nbHeuresTravBloc-value"} {
		if value := r.PostForm.Get(key); value != "" {
			fmt.Fprintf(&items, "<li>%s : %s</li>", key, value)
		}
	}
	f.html(fmt.Sprintf(`<h2 class="recap">Récapitulatif de
		votre actualisation</h2>
		<div class="form-result"><ul>%s</ul></div>
		<form method="post" action="/actualisation/confirmation"><input type="hidden" name="valider" value="1"></form>`, items.String()))(w, r)
}

func (f *fixturePortal) listing(w http.ResponseWriter, r *http.Request) {
	page := 1
	if p := r.URL.Query().Get("page"); p != "" {
		page, _ = strconv.Atoi(p)
	}

	f.mu.Lock()
	if page == 1 {
		f.filter = r.URL.Query()
	}
	f.visitedPages = append(f.visitedPages, page)
	pages, rows := f.pages, f.rowsPerPage
	f.mu.Unlock()

	if pages == 0 {
		f.html(`<p>Aucun courrier</p>`)(w, r)
		return
	}

	var out strings.Builder
	out.WriteString(`<table class="listingPyjama"><tr><th>Date</th><th>Objet</th><th>Canal</th><th></th></tr>`)
	for i := 1; i <= rows; i++ {
		n := (page-1)*rows + i
		class := ""
		if n%2 == 0 {
			class = ` class="courrierNonLu"`
		}
		fmt.Fprintf(&out, `<tr%s><td class="date">%02d/03/2024</td><td class="avisPaie">Courrier %d</td><td class="courrierPap">Internet</td><td class="Telechar"><a href="voir?id=%d">Voir</a></td></tr>`,
			class, (n-1)%28+1, n, n)
	}
	out.WriteString(`</table><div class="pagination">`)
	for p := 1; p <= pages; p++ {
		if p == page {
			fmt.Fprintf(&out, `<span>%d</span>`, p)
			continue
		}
		fmt.Fprintf(&out, `<a href="?page=%d">%d</a>`, p, p)
	}
	if page < pages {
		fmt.Fprintf(&out, `<a href="?page=%d">Suivant</a>`, page+1)
	}
	out.WriteString(`</div>`)
	f.html(out.String())(w, r)
}

func (f *fixturePortal) viewMail(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("id") == "html" {
		f.html(`<iframe src="/courriers/html"></iframe>`)(w, r)
		return
	}
	f.html(`<iframe src="/courriers/pdf?id=` + r.URL.Query().Get("id") + `"></iframe>`)(w, r)
}
