package portal

import (
	"maps"
	"strconv"
)

const (
	BlockWork       = "travailleBloc"
	BlockHours      = "nbHeuresTravBloc"
	BlockSalary     = "montSalaireBloc"
	BlockTraining   = "stageBloc"
	BlockSickness   = "maladieBloc"
	BlockMaternity  = "materniteBloc"
	BlockPension    = "retraiteBloc"
	BlockDisability = "invaliditeBloc"
	BlockSearching  = "rechercheBloc"

	AnswerYes = "OUI"
	AnswerNo  = "NON"
)

// Questions is the exact wording expected for every known block. Any other
// wording means the form changed and nothing is answered.
var Questions = map[string]string{
	BlockWork:       "Avez-vous travaillé ou exercé une activité non salariée ?",
	BlockHours:      "Heures travaillées dans le mois",
	BlockSalary:     "Montant total de votre ou vos salaires bruts réels ou estimés",
	BlockTraining:   "Avez-vous été en stage ?",
	BlockSickness:   "Avez-vous été en arrêt maladie ?",
	BlockMaternity:  "Avez-vous été en congé maternité ?",
	BlockPension:    "Percevez-vous une nouvelle pension retraite ?",
	BlockDisability: "Percevez-vous une nouvelle pensiond'invalidité de 2ème ou 3ème catégorie ?",
	BlockSearching:  "Etes-vous toujours à la recherche d'un emploi ?",
}

// AnswerSet maps a block id to the value submitted for it.
type AnswerSet map[string]string

// DefaultAnswers is the profile of a claimant who neither worked nor had
// any incident during the period and is still looking for a job.
func DefaultAnswers() AnswerSet {
	return AnswerSet{
		BlockWork:       AnswerNo,
		BlockTraining:   AnswerNo,
		BlockSickness:   AnswerNo,
		BlockMaternity:  AnswerNo,
		BlockPension:    AnswerNo,
		BlockDisability: AnswerNo,
		BlockSearching:  AnswerYes,
	}
}

// WithWork returns a copy declaring `hours` worked for `revenue` euros.
func (a AnswerSet) WithWork(hours, revenue int) AnswerSet {
	out := maps.Clone(a)
	if out == nil {
		out = AnswerSet{}
	}
	out[BlockWork] = AnswerYes
	out[BlockHours] = strconv.Itoa(hours)
	out[BlockSalary] = strconv.Itoa(revenue)
	return out
}
