/*
Package ngram provides an in-memory statistical n-gram language model.

A Model counts every n-token window of a line-oriented corpus (each line padded
with BOS and EOS sentinels), turns the counts into a maximum-likelihood
probability table, regroups that table into one next-token distribution per
(n-1)-token context, and draws sentences from those distributions.

	model, err := ngram.New(2, ngram.FileCorpus{Path: "sentences.txt"})
	if err != nil { ... }
	if err := model.Build(); err != nil { ... }
	text, err := model.GenerateText(ngram.WithMaxLength(200))

Training text can also come from a corpusdb.Store.
*/
package ngram
